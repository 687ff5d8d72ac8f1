// Package fleetfile loads declarative fleet descriptions (printers with
// their gcodes, products with their components) from YAML or TOML and
// applies them to a store.
//
//	printers:
//	  - id: voron
//	    name: Voron 2.4
//	    host: 10.0.0.5
//	    window: "10:00-22:00"
//	    materials: [PLA, ABS]
//	    gcodes:
//	      - id: voron-bracket
//	        name: bracket
//	        material: PLA
//	        duration: 1h30m
//	products:
//	  - id: order-42
//	    name: Order 42
//	    due: "2025-06-03 18:00"
//	    components:
//	      - name: left arm
//	        material: PLA
//	        gcodes: [voron-bracket]
package fleetfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/printfleet/printfleet/internal/timeparsing"
	"github.com/printfleet/printfleet/internal/types"
)

// Format identifies the file syntax.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// File is the decoded fleet description.
type File struct {
	Printers []Printer `yaml:"printers" toml:"printers"`
	Products []Product `yaml:"products" toml:"products"`
}

// Printer declares a printer and the gcodes sliced for it.
type Printer struct {
	ID            string   `yaml:"id" toml:"id"`
	Name          string   `yaml:"name" toml:"name"`
	Model         string   `yaml:"model" toml:"model"`
	Host          string   `yaml:"host" toml:"host"`
	Port          int      `yaml:"port" toml:"port"`
	Window        string   `yaml:"window" toml:"window"`
	Materials     []string `yaml:"materials" toml:"materials"`
	HeatedChamber bool     `yaml:"heated_chamber" toml:"heated_chamber"`
	Gcodes        []Gcode  `yaml:"gcodes" toml:"gcodes"`
}

// Gcode declares a machine file. Duration accepts the forms
// timeparsing.ParsePrintDuration does.
type Gcode struct {
	ID       string `yaml:"id" toml:"id"`
	Name     string `yaml:"name" toml:"name"`
	File     string `yaml:"file" toml:"file"`
	Material string `yaml:"material" toml:"material"`
	Duration string `yaml:"duration" toml:"duration"`
}

// Product declares a product. Due accepts the forms
// timeparsing.ParseRelativeTime does; a bare date means the end of that day.
type Product struct {
	ID          string      `yaml:"id" toml:"id"`
	Name        string      `yaml:"name" toml:"name"`
	Description string      `yaml:"description" toml:"description"`
	Due         string      `yaml:"due" toml:"due"`
	Components  []Component `yaml:"components" toml:"components"`
}

// Component declares one printable part. Gcodes lists allowed gcode IDs,
// either declared in the same file or already stored.
type Component struct {
	ID       string   `yaml:"id" toml:"id"`
	Name     string   `yaml:"name" toml:"name"`
	Material string   `yaml:"material" toml:"material"`
	Gcodes   []string `yaml:"gcodes" toml:"gcodes"`
}

// FormatForPath picks the format from the file extension.
func FormatForPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	}
	return "", fmt.Errorf("unsupported fleet file %s: want .yaml, .yml or .toml", path)
}

// Load reads and decodes a fleet file.
func Load(path string) (*File, error) {
	format, err := FormatForPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path) // #nosec G304 - user-supplied fleet file
	if err != nil {
		return nil, fmt.Errorf("read fleet file: %w", err)
	}
	f, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes data. Unknown keys are errors so typos do not silently drop
// settings.
func Parse(data []byte, format Format) (*File, error) {
	var f File
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	case FormatTOML:
		md, err := toml.Decode(string(data), &f)
		if err != nil {
			return nil, fmt.Errorf("parse toml: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("parse toml: unknown keys: %s", strings.Join(keys, ", "))
		}
	default:
		return nil, fmt.Errorf("unknown fleet file format %q", format)
	}
	return &f, nil
}

// Plan is a File converted to model records, ready to apply.
type Plan struct {
	Printers   []*types.Printer
	Gcodes     []*types.Gcode
	Products   []*types.Product
	Components []*types.Component
}

// Resolve validates the file and converts it to records. Due dates are
// resolved against now in now's location.
func (f *File) Resolve(now time.Time) (*Plan, error) {
	var errs []string
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}
	p := &Plan{}

	for i, fp := range f.Printers {
		where := fmt.Sprintf("printers[%d]", i)
		if fp.Name != "" {
			where += " (" + fp.Name + ")"
		}
		pr := &types.Printer{
			ID:            fp.ID,
			Name:          fp.Name,
			Model:         fp.Model,
			Host:          fp.Host,
			Port:          fp.Port,
			Materials:     fp.Materials,
			HeatedChamber: fp.HeatedChamber,
		}
		if fp.Window != "" {
			w, err := types.ParseWindow(fp.Window)
			if err != nil {
				fail("%s: %v", where, err)
			}
			pr.Window = w
		}
		pr.SetDefaults()
		if err := pr.Validate(); err != nil {
			fail("%s: %v", where, err)
		}
		if len(fp.Gcodes) > 0 && fp.ID == "" {
			fail("%s: an id is required to attach gcodes", where)
		}
		p.Printers = append(p.Printers, pr)

		for j, fg := range fp.Gcodes {
			gwhere := fmt.Sprintf("%s.gcodes[%d]", where, j)
			d, err := timeparsing.ParsePrintDuration(fg.Duration)
			if err != nil {
				fail("%s: %v", gwhere, err)
			}
			g := &types.Gcode{
				ID:                fg.ID,
				PrinterID:         fp.ID,
				Name:              fg.Name,
				FilePath:          fg.File,
				Material:          types.NormalizeMaterial(fg.Material),
				EstimatedDuration: d,
			}
			if err == nil && fp.ID != "" {
				if verr := g.Validate(); verr != nil {
					fail("%s: %v", gwhere, verr)
				}
			}
			if g.Material != "" && !pr.Supports(g.Material) {
				fail("%s: printer does not support material %s", gwhere, g.Material)
			}
			p.Gcodes = append(p.Gcodes, g)
		}
	}

	for i, fpr := range f.Products {
		where := fmt.Sprintf("products[%d]", i)
		if fpr.Name != "" {
			where += " (" + fpr.Name + ")"
		}
		prod := &types.Product{ID: fpr.ID, Name: fpr.Name, Description: fpr.Description}
		if strings.TrimSpace(fpr.Due) == "" {
			fail("%s: due is required", where)
		} else if due, err := timeparsing.ParseRelativeTime(fpr.Due, now); err != nil {
			fail("%s: %v", where, err)
		} else {
			if timeparsing.IsDateOnly(fpr.Due) {
				due = timeparsing.EndOfDay(due)
			}
			prod.DueDate = due
		}
		if prod.DueDate.IsZero() {
			prod.DueDate = now // placeholder so Validate reports only real problems
		}
		if err := prod.Validate(); err != nil {
			fail("%s: %v", where, err)
		}
		if len(fpr.Components) > 0 && fpr.ID == "" {
			fail("%s: an id is required to attach components", where)
		}
		p.Products = append(p.Products, prod)

		for j, fc := range fpr.Components {
			c := &types.Component{
				ID:            fc.ID,
				ProductID:     fpr.ID,
				Name:          fc.Name,
				Material:      fc.Material,
				AllowedGcodes: fc.Gcodes,
			}
			if err := c.Validate(); err != nil && fpr.ID != "" {
				fail("%s.components[%d]: %v", where, j, err)
			}
			p.Components = append(p.Components, c)
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid fleet file:\n  %s", strings.Join(errs, "\n  "))
	}
	return p, nil
}
