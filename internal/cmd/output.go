package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/kbadmin/internal/errors"
)

// Formatter writes a command's result in one output format.
type Formatter interface {
	Format(data any) error
}

// NewFormatter creates a formatter based on the format string
func NewFormatter(format string, w io.Writer) (Formatter, error) {
	switch format {
	case "json":
		return &jsonFormatter{w: w}, nil
	case "yaml":
		return &yamlFormatter{w: w}, nil
	case "text", "":
		return &textFormatter{w: w}, nil
	default:
		return nil, errors.New(errors.ErrCodeInvalidInput, fmt.Sprintf("unknown format: %s (supported: text, json, yaml)", format))
	}
}

type jsonFormatter struct {
	w io.Writer
}

func (f *jsonFormatter) Format(data any) error {
	encoder := json.NewEncoder(f.w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

type yamlFormatter struct {
	w io.Writer
}

func (f *yamlFormatter) Format(data any) error {
	encoder := yaml.NewEncoder(f.w)
	encoder.SetIndent(2)
	defer encoder.Close()
	return encoder.Encode(data)
}

// textFormatter requires data to be a string or a fmt.Stringer.
type textFormatter struct {
	w io.Writer
}

func (f *textFormatter) Format(data any) error {
	switch v := data.(type) {
	case string:
		_, err := fmt.Fprintln(f.w, v)
		return err
	case fmt.Stringer:
		_, err := fmt.Fprint(f.w, v.String())
		return err
	default:
		return fmt.Errorf("text formatter requires data to implement String() method or be a primitive type")
	}
}
