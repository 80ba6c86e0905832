package expr

import (
	"errors"
	"fmt"
	"strings"
)

// errUnknownRef marks a reference the run context cannot resolve.
// Guards fail closed on it: the job is skipped, not errored.
var errUnknownRef = errors.New("unknown reference")

// Context is the immutable data a guard expression can see: the branch
// ref, the trigger event kind, and the declared outputs of upstream
// jobs, addressed as needs.<job>.outputs.<key>.
type Context struct {
	Branch  string
	Event   string
	Outputs map[string]map[string]string
}

func (c *Context) resolve(path []string) (value, error) {
	switch path[0] {
	case "branch":
		if len(path) == 1 {
			return strValue(c.Branch), nil
		}
	case "event":
		if len(path) == 1 {
			return strValue(c.Event), nil
		}
	case "needs":
		// needs.<job>.outputs.<key>
		if len(path) == 4 && path[2] == "outputs" {
			outputs, ok := c.Outputs[path[1]]
			if !ok {
				return value{}, fmt.Errorf("%w: %s", errUnknownRef, strings.Join(path, "."))
			}
			v, ok := outputs[path[3]]
			if !ok {
				return value{}, fmt.Errorf("%w: %s", errUnknownRef, strings.Join(path, "."))
			}
			return strValue(v), nil
		}
	}
	return value{}, fmt.Errorf("%w: %s", errUnknownRef, strings.Join(path, "."))
}

// Eval evaluates a parsed guard against the context. An unresolved
// reference anywhere in the expression yields false rather than an
// error, keeping pipelines resilient to partial context.
func Eval(node Node, ctx *Context) bool {
	v, err := node.eval(ctx)
	if err != nil {
		return false
	}
	return v.truthy()
}
