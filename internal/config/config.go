// Package config loads annotator configuration from CUE.
//
// A user file is unified with the embedded #Config schema, so every field
// carries a default and unknown fields are rejected:
//
//	quote_separator: " | "
//	edit_cancel:     "idle"
//	templates: view: "tooltip"
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
)

//go:embed schema.cue
var schemaSource string

// DefaultFile is the config file looked up inside a directory.
const DefaultFile = "marginalia.cue"

// Error codes carried by LoadError.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeSchema      = "E201" // Value does not satisfy #Config
	ErrCodeDecode      = "E202" // Concrete value could not be decoded
)

// Templates names the template id fetched for each surface kind.
type Templates struct {
	Create string `json:"create"`
	Edit   string `json:"edit"`
	View   string `json:"view"`
}

// Config is the resolved annotator configuration.
type Config struct {
	Templates      Templates `json:"templates"`
	TemplateDir    string    `json:"template_dir"`
	QuoteSeparator string    `json:"quote_separator"`
	IgnoreSelector string    `json:"ignore_selector"`
	EditCancel     string    `json:"edit_cancel"`
	Journal        string    `json:"journal"`
}

// LoadError is a configuration failure with its CUE source position when
// one is known.
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

// Default returns the configuration an empty file resolves to.
func Default() *Config {
	cfg, err := Parse(nil, "default.cue")
	if err != nil {
		panic(fmt.Sprintf("config: embedded schema: %v", err))
	}
	return cfg
}

// Load reads configuration from path. A directory is loaded as a CUE
// package; a file is compiled on its own. Relative template_dir and journal
// paths resolve against the config's directory.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("config not found: %s", path)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing config: %v", err)}
	}

	var cfg *Config
	var base string
	if info.IsDir() {
		cfg, err = loadDir(path)
		base = path
	} else {
		var data []byte
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("reading config: %v", err)}
		}
		cfg, err = Parse(data, path)
		base = filepath.Dir(path)
	}
	if err != nil {
		return nil, err
	}

	cfg.TemplateDir = resolve(base, cfg.TemplateDir)
	cfg.Journal = resolve(base, cfg.Journal)
	return cfg, nil
}

func resolve(base, p string) string {
	if p == "" || p == ":memory:" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// Parse compiles src and unifies it with the schema. filename is used for
// error positions only.
func Parse(src []byte, filename string) (*Config, error) {
	ctx := cuecontext.New()
	user := ctx.CompileBytes(src, cue.Filename(filename))
	if err := user.Err(); err != nil {
		return nil, formatCUEError(ErrCodeBuildFailed, err, user)
	}
	return decode(ctx, user)
}

func loadDir(dir string) (*Config, error) {
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}
	}

	ctx := cuecontext.New()
	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, formatCUEError(ErrCodeBuildFailed, err, value)
	}
	return decode(ctx, value)
}

func decode(ctx *cue.Context, user cue.Value) (*Config, error) {
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, formatCUEError(ErrCodeBuildFailed, err, schema)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	unified := def.Unify(user)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(ErrCodeSchema, err, user)
	}

	var cfg Config
	if err := unified.Decode(&cfg); err != nil {
		return nil, &LoadError{Code: ErrCodeDecode, Message: err.Error(), Pos: unified.Pos()}
	}
	return &cfg, nil
}

// formatCUEError folds every CUE error into one LoadError. The position is
// the first valid one outside the embedded schema; failing that, the
// position of the offending field's value in user.
func formatCUEError(code string, err error, user cue.Value) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &LoadError{Code: code, Message: err.Error()}
	}

	var msgs []string
	seen := make(map[string]bool, len(errs))
	for _, e := range errs {
		m := e.Error()
		if !seen[m] {
			seen[m] = true
			msgs = append(msgs, m)
		}
	}
	le := &LoadError{Code: code, Message: strings.Join(msgs, "; ")}

	var fallback token.Pos
	for _, e := range errs {
		for _, pos := range append([]token.Pos{e.Position()}, cueerrors.Positions(e)...) {
			if !pos.IsValid() {
				continue
			}
			if filepath.Base(pos.Filename()) != "schema.cue" {
				le.Pos = pos
				return le
			}
			if !fallback.IsValid() {
				fallback = pos
			}
		}
	}
	for _, e := range errs {
		if pos := fieldPos(user, e.Path()); pos.IsValid() {
			le.Pos = pos
			return le
		}
	}
	le.Pos = fallback
	return le
}

// fieldPos returns the position of the value at path in v, skipping the
// definition labels the schema contributes.
func fieldPos(v cue.Value, path []string) token.Pos {
	var sels []cue.Selector
	for _, label := range path {
		if strings.HasPrefix(label, "#") {
			continue
		}
		if n, err := strconv.Atoi(label); err == nil {
			sels = append(sels, cue.Index(n))
			continue
		}
		sels = append(sels, cue.Str(label))
	}
	if len(sels) == 0 || !v.Exists() {
		return token.NoPos
	}
	field := v.LookupPath(cue.MakePath(sels...))
	if !field.Exists() {
		return token.NoPos
	}
	return field.Pos()
}

// IsLoadError reports whether err is a LoadError with the given code.
func IsLoadError(err error, code string) bool {
	var le *LoadError
	return errors.As(err, &le) && le.Code == code
}
