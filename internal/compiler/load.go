package compiler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/tomjrwilliams/xsm/internal/ir"
)

// Loaded is a model compiled from a directory of CUE files.
type Loaded struct {
	Model *ir.ModelSpec
	Hash  string // content hash of the compiled model
	Files int
}

// LoadDir loads every CUE file in dir as one instance and compiles it.
// A model without a name takes the directory's base name.
//
// LoadDir does not run Validate; callers decide how to report problems.
func LoadDir(dir string) (*Loaded, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("model directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", dir)
	}

	files, err := FindCUEFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no CUE files found in %s", dir)
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("no CUE instances loaded from %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, fmt.Errorf("loading CUE files: %w", inst.Err)
	}

	value := cuecontext.New().BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	model, err := CompileModel(value)
	if err != nil {
		return nil, err
	}
	if model.Name == "" {
		abs, err := filepath.Abs(dir)
		if err != nil {
			abs = dir
		}
		model.Name = filepath.Base(abs)
	}

	hash, err := ModelHash(model)
	if err != nil {
		return nil, err
	}
	return &Loaded{Model: model, Hash: hash, Files: len(files)}, nil
}

// ModelHash returns the content hash of a compiled model. Source
// positions are excluded so reformatting a file keeps the hash.
func ModelHash(m *ir.ModelSpec) (string, error) {
	clean := *m
	clean.Variants = make([]ir.VariantSpec, len(m.Variants))
	for i, v := range m.Variants {
		v.Line = 0
		clean.Variants[i] = v
	}

	data, err := json.Marshal(clean)
	if err != nil {
		return "", fmt.Errorf("model hash: %w", err)
	}
	v, err := ir.UnmarshalIRValue(data)
	if err != nil {
		return "", fmt.Errorf("model hash: %w", err)
	}
	return ir.Digest(ir.DomainModel, v)
}

// FindCUEFiles returns the .cue files directly inside dir, sorted.
func FindCUEFiles(dir string) ([]string, error) {
	return filepath.Glob(filepath.Join(dir, "*.cue"))
}
