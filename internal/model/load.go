package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/correlate/internal/ir"
)

// Load error codes.
const (
	CodeGeneric     = "E001"
	CodeScanError   = "E002"
	CodeNoFiles     = "E003"
	CodeLoadFailed  = "E004"
	CodeNotFound    = "E005"
	CodeBuildFailed = "E006"

	CodeInvalidField   = "E101"
	CodeInvalidType    = "E102"
	CodeInvalidChannel = "E111"
	CodeUnknownEvent   = "E112"
)

// LoadError is one problem found while loading a model directory.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Set is a compiled, cross-checked collection of event and channel models.
type Set struct {
	Events   map[string]ir.EventModel
	Channels map[string]ir.ChannelModel

	// FileCount is the number of CUE files the set was loaded from.
	FileCount int
}

// NewSet creates an empty set.
func NewSet() *Set {
	return &Set{
		Events:   make(map[string]ir.EventModel),
		Channels: make(map[string]ir.ChannelModel),
	}
}

// Event returns the event model with the given key.
func (s *Set) Event(key string) (ir.EventModel, bool) {
	m, ok := s.Events[key]
	return m, ok
}

// Channel returns the channel model with the given key.
func (s *Set) Channel(key string) (ir.ChannelModel, bool) {
	c, ok := s.Channels[key]
	return c, ok
}

// EventKeys returns the event keys in sorted order.
func (s *Set) EventKeys() []string {
	keys := make([]string, 0, len(s.Events))
	for k := range s.Events {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// ChannelKeys returns the channel keys in sorted order.
func (s *Set) ChannelKeys() []string {
	keys := make([]string, 0, len(s.Channels))
	for k := range s.Channels {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// LoadDir loads every CUE file in dir as one instance and compiles it.
// All problems are collected; the returned set holds what compiled.
func LoadDir(dir string) (*Set, []error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: CodeNotFound, Message: fmt.Sprintf("models directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: CodeNotFound, Message: fmt.Sprintf("error accessing models directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: CodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	files, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: CodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(files) == 0 {
		return nil, []error{&LoadError{Code: CodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, []error{&LoadError{Code: CodeLoadFailed, Message: "no CUE instances loaded"}}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&LoadError{Code: CodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}

	value := cuecontext.New().BuildInstance(inst)
	set, errs := compileValue(value)
	if set != nil {
		set.FileCount = len(files)
	}
	return set, errs
}

// CompileString compiles CUE source held in memory.
func CompileString(filename, src string) (*Set, []error) {
	value := cuecontext.New().CompileString(src, cue.Filename(filename))
	return compileValue(value)
}

func compileValue(value cue.Value) (*Set, []error) {
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: CodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}

	set := NewSet()
	var errs []error

	if events := value.LookupPath(cue.ParsePath("events")); events.Exists() {
		iter, err := events.Fields()
		if err != nil {
			errs = append(errs, &LoadError{Code: CodeGeneric, Message: fmt.Sprintf("iterating events: %v", err)})
		} else {
			for iter.Next() {
				m, err := CompileEvent(iter.Value())
				if err != nil {
					errs = append(errs, convertCompileError(err, "events."+iter.Selector().String()))
					continue
				}
				set.Events[m.Key] = m
			}
		}
	}

	if channels := value.LookupPath(cue.ParsePath("channels")); channels.Exists() {
		iter, err := channels.Fields()
		if err != nil {
			errs = append(errs, &LoadError{Code: CodeGeneric, Message: fmt.Sprintf("iterating channels: %v", err)})
		} else {
			for iter.Next() {
				c, err := CompileChannel(iter.Value())
				if err != nil {
					errs = append(errs, convertCompileError(err, "channels."+iter.Selector().String()))
					continue
				}
				set.Channels[c.Key] = c
			}
		}
	}

	for _, key := range set.ChannelKeys() {
		c := set.Channels[key]
		if c.Event == "" {
			continue
		}
		if _, ok := set.Events[c.Event]; !ok {
			errs = append(errs, &LoadError{
				Code:    CodeUnknownEvent,
				Message: fmt.Sprintf("channel %q references unknown event %q", c.Key, c.Event),
			})
		}
	}

	if len(set.Events) == 0 && len(errs) == 0 {
		errs = append(errs, &LoadError{Code: CodeGeneric, Message: "no events found in models"})
	}
	return set, errs
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// convertCompileError converts a compile error to a LoadError with
// position info.
func convertCompileError(err error, context string) *LoadError {
	var ce *CompileError
	if errors.As(err, &ce) {
		return &LoadError{
			Code:    codeForField(ce.Field),
			Message: fmt.Sprintf("%s: %s", context, ce.Message),
			Pos:     ce.Pos,
		}
	}
	return &LoadError{
		Code:    CodeGeneric,
		Message: fmt.Sprintf("%s: %v", context, err),
	}
}

func codeForField(field string) string {
	switch field {
	case "type":
		return CodeInvalidType
	case "correlation", "payload", "field", "name":
		return CodeInvalidField
	case "channel", "event", "eventField", "tenant", "tenantField":
		return CodeInvalidChannel
	default:
		return CodeGeneric
	}
}
