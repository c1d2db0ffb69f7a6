package lang

import (
	"fmt"
	"path"
	"regexp"

	"github.com/michaelbrown/crucible/internal/sandbox"
)

// scriptFile is the file name used by languages with no naming rule.
const scriptFile = "main"

// JavaScript runs source with node.
type JavaScript struct{}

func (JavaScript) Name() string      { return "javascript" }
func (JavaScript) Extension() string { return ".js" }

func (j JavaScript) Prepare(_ string) Unit {
	return Unit{FileName: scriptFile + j.Extension()}
}

func (JavaScript) Command(u Unit) []string {
	return []string{"node", path.Join(sandbox.MountDir, u.FileName)}
}

// Python runs source with the python interpreter.
type Python struct{}

func (Python) Name() string      { return "python" }
func (Python) Extension() string { return ".py" }

func (p Python) Prepare(_ string) Unit {
	return Unit{FileName: scriptFile + p.Extension()}
}

func (Python) Command(u Unit) []string {
	return []string{"python", path.Join(sandbox.MountDir, u.FileName)}
}

// DefaultJavaClass is used when no class declaration is found in the source.
const DefaultJavaClass = "Main"

var javaClassRe = regexp.MustCompile(`class\s+(\w+)`)

// Java compiles then runs the first declared class. javac requires the file
// name to match a public class, so the class name is extracted from source.
type Java struct{}

func (Java) Name() string      { return "java" }
func (Java) Extension() string { return ".java" }

func (j Java) Prepare(source string) Unit {
	class := DefaultJavaClass
	if m := javaClassRe.FindStringSubmatch(source); m != nil {
		class = m[1]
	}
	return Unit{
		FileName:       class + j.Extension(),
		ArtifactName:   class,
		BuildArtifacts: []string{class + ".class"},
	}
}

// Command builds into /tmp because the source mount is read-only. A build
// failure stops the chain and surfaces on stderr.
func (Java) Command(u Unit) []string {
	script := fmt.Sprintf("cd %s && javac -d /tmp %s && java -cp /tmp %s", sandbox.MountDir, u.FileName, u.ArtifactName)
	return []string{"sh", "-c", script}
}
