// Package jobs provides the units of work the task runtime executes. Each job
// type has a builder that decodes its payload at submission time and returns a
// closure capturing everything the job needs.
package jobs

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"taskhub/internal/runtime"
)

const (
	TypeSleep = "sleep"
	TypeFetch = "fetch"
	TypeEmail = "email"
	TypeImage = "image"
)

// Builder turns a raw payload into a runnable unit of work. Payload errors are
// reported to the producer, before anything is enqueued.
type Builder func(payload json.RawMessage) (runtime.UnitOfWork, error)

// Registry maps task types to builders.
func Registry(sender Sender, workDir string) map[string]Builder {
	return map[string]Builder{
		TypeSleep: SleepBuilder(),
		TypeFetch: FetchBuilder(workDir),
		TypeEmail: EmailBuilder(sender),
		TypeImage: ImageBuilder(workDir),
	}
}

// Build resolves the builder for taskType and constructs the work.
func Build(builders map[string]Builder, taskType string, payload json.RawMessage) (runtime.UnitOfWork, error) {
	b, ok := builders[taskType]
	if !ok {
		return nil, fmt.Errorf("unknown task type %q", taskType)
	}
	return b(payload)
}

// checkFilename rejects names that could resolve outside the working
// directory. Payloads arrive from unauthenticated producers, so anything with
// a path separator or dot-dot component is refused outright.
func checkFilename(name string) error {
	if name == "" || name == "." || name == ".." {
		return fmt.Errorf("filename is required")
	}
	if strings.ContainsAny(name, `/\`) || name != filepath.Base(name) {
		return fmt.Errorf("invalid filename %q", name)
	}
	return nil
}
