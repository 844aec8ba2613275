// Package cliformat reads and writes the CLI 1.x ASCII slice format
// spec.md §6 and §4.9 define: a fixed header block, then a geometry
// block of per-layer polylines and hatches.
//
// The grammar is new code — no example repo parses a line-oriented
// slice format, so the reader/writer is written directly from spec.md
// §6's grammar rather than adapted from a teacher file — but the
// exporter's three-phase begin/advance/finalize progress-reporting
// shape follows internal/kernel's blocking/background split (a
// long-running operation the caller drives step by step and can poll
// for progress).
package cliformat

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gladius-go/slicer/internal/cerrors"
	"github.com/gladius-go/slicer/internal/geom"
)

// Direction is a polyline's winding classification.
type Direction int

const (
	DirectionInner Direction = 0
	DirectionOuter Direction = 1
)

// ContourMode marks a polyline for exclusion from the written slice,
// per spec.md §4.9.
type ContourMode int

const (
	ContourNormal ContourMode = iota
	ContourExcludeFromSlice
)

// Polyline is one $$POLYLINE entry.
type Polyline struct {
	ModelID   int
	Direction Direction
	Points    []geom.Vec2
	Mode      ContourMode
}

// Hatch is one $$HATCHES entry.
type Hatch struct {
	ModelID int
	Points  []geom.Vec2
}

// Layer is one $$LAYER block.
type Layer struct {
	Z         float32
	Polylines []Polyline
	Hatches   []Hatch
}

// Header mirrors the $$HEADERSTART/$$HEADEREND block's fields.
type Header struct {
	Units   float32
	Version int
	LabelID int
	Label   string
	Layers  int
}

// File is a fully parsed/assembled CLI document.
type File struct {
	Header Header
	Layers []Layer
}

var (
	errMalformedDirective = malformedErr{"malformed directive"}
	errMissingGeometry    = malformedErr{"$$GEOMETRYSTART without a preceding $$HEADEREND"}
)

type malformedErr struct{ msg string }

func (e malformedErr) Error() string { return e.msg }

// WriteFile emits f in the CLI 1.x ASCII format. Polylines whose Mode
// is ContourExcludeFromSlice are skipped, per spec.md §4.9.
func WriteFile(w io.Writer, f File) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintln(bw, "$$HEADERSTART")
	fmt.Fprintln(bw, "$$ASCII")
	fmt.Fprintf(bw, "$$UNITS/%g\n", f.Header.Units)
	fmt.Fprintf(bw, "$$VERSION/%d\n", f.Header.Version)
	fmt.Fprintf(bw, "$$LABEL/%d, %s\n", f.Header.LabelID, f.Header.Label)
	fmt.Fprintf(bw, "$$LAYERS/%d\n", f.Header.Layers)
	fmt.Fprintln(bw, "$$HEADEREND")
	fmt.Fprintln(bw, "$$GEOMETRYSTART")

	for _, layer := range f.Layers {
		fmt.Fprintf(bw, "$$LAYER/%g\n", layer.Z)
		for _, pl := range layer.Polylines {
			if pl.Mode == ContourExcludeFromSlice {
				continue
			}
			fmt.Fprintf(bw, "$$POLYLINE/%d,%d,%d", pl.ModelID, pl.Direction, len(pl.Points))
			for _, p := range pl.Points {
				fmt.Fprintf(bw, ",%g,%g", p.X(), p.Y())
			}
			fmt.Fprintln(bw)
		}
		for _, h := range layer.Hatches {
			fmt.Fprintf(bw, "$$HATCHES/%d/%d", h.ModelID, len(h.Points))
			for _, p := range h.Points {
				fmt.Fprintf(bw, ",%g,%g", p.X(), p.Y())
			}
			fmt.Fprintln(bw)
		}
	}

	fmt.Fprintln(bw, "$$GEOMETRYEND")
	if err := bw.Flush(); err != nil {
		return cerrors.New(cerrors.KindIO, "cliformat.WriteFile", err)
	}
	return nil
}

// ParseFile reads a CLI 1.x ASCII document, whitespace-tolerant and
// ignoring unknown directives, per spec.md §6. Coordinates are scaled
// by the header's $$UNITS value as they're read.
func ParseFile(r io.Reader) (File, error) {
	scanner := bufio.NewScanner(r)
	var f File
	f.Header.Units = 1
	inGeometry := false
	sawHeaderEnd := false
	var cur *Layer

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch {
		case line == "$$HEADERSTART", line == "$$ASCII":
			// no state to track
		case strings.HasPrefix(line, "$$UNITS/"):
			v, err := strconv.ParseFloat(strings.TrimPrefix(line, "$$UNITS/"), 32)
			if err == nil {
				f.Header.Units = float32(v)
			}
		case strings.HasPrefix(line, "$$VERSION/"):
			v, err := strconv.Atoi(strings.TrimPrefix(line, "$$VERSION/"))
			if err == nil {
				f.Header.Version = v
			}
		case strings.HasPrefix(line, "$$LABEL/"):
			parseLabel(line, &f.Header)
		case strings.HasPrefix(line, "$$LAYERS/"):
			v, err := strconv.Atoi(strings.TrimPrefix(line, "$$LAYERS/"))
			if err == nil {
				f.Header.Layers = v
			}
		case line == "$$HEADEREND":
			sawHeaderEnd = true
		case line == "$$GEOMETRYSTART":
			if !sawHeaderEnd {
				return File{}, cerrors.New(cerrors.KindUnsupportedFormat, "cliformat.ParseFile", errMissingGeometry)
			}
			inGeometry = true
		case line == "$$GEOMETRYEND":
			if cur != nil {
				f.Layers = append(f.Layers, *cur)
				cur = nil
			}
			inGeometry = false
		case inGeometry && strings.HasPrefix(line, "$$LAYER/"):
			if cur != nil {
				f.Layers = append(f.Layers, *cur)
			}
			v, err := strconv.ParseFloat(strings.TrimPrefix(line, "$$LAYER/"), 32)
			z := float32(0)
			if err == nil {
				z = float32(v) * f.Header.Units
			}
			cur = &Layer{Z: z}
		case inGeometry && strings.HasPrefix(line, "$$POLYLINE/"):
			if cur == nil {
				continue
			}
			pl, err := parsePolyline(line, f.Header.Units)
			if err != nil {
				return File{}, err
			}
			cur.Polylines = append(cur.Polylines, pl)
		case inGeometry && strings.HasPrefix(line, "$$HATCHES/"):
			if cur == nil {
				continue
			}
			h, err := parseHatch(line, f.Header.Units)
			if err != nil {
				return File{}, err
			}
			cur.Hatches = append(cur.Hatches, h)
		default:
			// unknown directive, ignored per spec.md §6
		}
	}
	if err := scanner.Err(); err != nil {
		return File{}, cerrors.New(cerrors.KindIO, "cliformat.ParseFile", err)
	}
	if cur != nil {
		f.Layers = append(f.Layers, *cur)
	}
	return f, nil
}

func parseLabel(line string, h *Header) {
	rest := strings.TrimPrefix(line, "$$LABEL/")
	parts := strings.SplitN(rest, ",", 2)
	if len(parts) == 0 {
		return
	}
	if id, err := strconv.Atoi(strings.TrimSpace(parts[0])); err == nil {
		h.LabelID = id
	}
	if len(parts) == 2 {
		h.Label = strings.TrimSpace(parts[1])
	}
}

func parsePolyline(line string, units float32) (Polyline, error) {
	rest := strings.TrimPrefix(line, "$$POLYLINE/")
	fields := strings.Split(rest, ",")
	if len(fields) < 3 {
		return Polyline{}, cerrors.New(cerrors.KindUnsupportedFormat, "cliformat.parsePolyline", errMalformedDirective)
	}
	id, err1 := strconv.Atoi(strings.TrimSpace(fields[0]))
	dir, err2 := strconv.Atoi(strings.TrimSpace(fields[1]))
	count, err3 := strconv.Atoi(strings.TrimSpace(fields[2]))
	if err1 != nil || err2 != nil || err3 != nil {
		return Polyline{}, cerrors.New(cerrors.KindUnsupportedFormat, "cliformat.parsePolyline", errMalformedDirective)
	}
	coords := fields[3:]
	pts, err := parseCoordPairs(coords, count, units)
	if err != nil {
		return Polyline{}, err
	}
	return Polyline{ModelID: id, Direction: Direction(dir), Points: pts}, nil
}

func parseHatch(line string, units float32) (Hatch, error) {
	rest := strings.TrimPrefix(line, "$$HATCHES/")
	slashParts := strings.SplitN(rest, "/", 2)
	if len(slashParts) != 2 {
		return Hatch{}, cerrors.New(cerrors.KindUnsupportedFormat, "cliformat.parseHatch", errMalformedDirective)
	}
	id, err := strconv.Atoi(strings.TrimSpace(slashParts[0]))
	if err != nil {
		return Hatch{}, cerrors.New(cerrors.KindUnsupportedFormat, "cliformat.parseHatch", errMalformedDirective)
	}
	fields := strings.Split(slashParts[1], ",")
	if len(fields) < 1 {
		return Hatch{}, cerrors.New(cerrors.KindUnsupportedFormat, "cliformat.parseHatch", errMalformedDirective)
	}
	count, err := strconv.Atoi(strings.TrimSpace(fields[0]))
	if err != nil {
		return Hatch{}, cerrors.New(cerrors.KindUnsupportedFormat, "cliformat.parseHatch", errMalformedDirective)
	}
	pts, err := parseCoordPairs(fields[1:], count, units)
	if err != nil {
		return Hatch{}, err
	}
	return Hatch{ModelID: id, Points: pts}, nil
}

func parseCoordPairs(fields []string, count int, units float32) ([]geom.Vec2, error) {
	if len(fields) < count*2 {
		return nil, cerrors.New(cerrors.KindUnsupportedFormat, "cliformat.parseCoordPairs", errMalformedDirective)
	}
	pts := make([]geom.Vec2, 0, count)
	for i := 0; i < count; i++ {
		x, err1 := strconv.ParseFloat(strings.TrimSpace(fields[2*i]), 32)
		y, err2 := strconv.ParseFloat(strings.TrimSpace(fields[2*i+1]), 32)
		if err1 != nil || err2 != nil {
			return nil, cerrors.New(cerrors.KindUnsupportedFormat, "cliformat.parseCoordPairs", errMalformedDirective)
		}
		pts = append(pts, geom.Vec2{float32(x) * units, float32(y) * units})
	}
	return pts, nil
}

// ExportPhase is the current stage of a three-phase CLI export.
type ExportPhase int

const (
	PhaseNotStarted ExportPhase = iota
	PhaseActive
	PhaseFinished
)

// Exporter drives spec.md §4.9's begin → advance (per layer) →
// finalize export, reporting progress (z-minZ)/(maxZ-minZ) after each
// advance.
type Exporter struct {
	w            io.Writer
	header       Header
	minZ, maxZ   float32
	phase        ExportPhase
}

var errExporterWrongPhase = malformedErr{"cliformat: export call out of phase order"}

// Begin writes the header and geometry-start directives and readies
// the exporter for per-layer Advance calls.
func (e *Exporter) Begin(w io.Writer, header Header, minZ, maxZ float32) error {
	if e.phase != PhaseNotStarted {
		return cerrors.New(cerrors.KindOther, "cliformat.Exporter.Begin", errExporterWrongPhase)
	}
	e.w = w
	e.header = header
	e.minZ, e.maxZ = minZ, maxZ

	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "$$HEADERSTART")
	fmt.Fprintln(bw, "$$ASCII")
	fmt.Fprintf(bw, "$$UNITS/%g\n", header.Units)
	fmt.Fprintf(bw, "$$VERSION/%d\n", header.Version)
	fmt.Fprintf(bw, "$$LABEL/%d, %s\n", header.LabelID, header.Label)
	fmt.Fprintf(bw, "$$LAYERS/%d\n", header.Layers)
	fmt.Fprintln(bw, "$$HEADEREND")
	fmt.Fprintln(bw, "$$GEOMETRYSTART")
	if err := bw.Flush(); err != nil {
		return cerrors.New(cerrors.KindIO, "cliformat.Exporter.Begin", err)
	}
	e.phase = PhaseActive
	return nil
}

// Advance writes one layer and returns its normalized progress,
// (z-minZ)/(maxZ-minZ), per spec.md §4.9.
func (e *Exporter) Advance(layer Layer) (float32, error) {
	if e.phase != PhaseActive {
		return 0, cerrors.New(cerrors.KindOther, "cliformat.Exporter.Advance", errExporterWrongPhase)
	}
	bw := bufio.NewWriter(e.w)
	fmt.Fprintf(bw, "$$LAYER/%g\n", layer.Z)
	for _, pl := range layer.Polylines {
		if pl.Mode == ContourExcludeFromSlice {
			continue
		}
		fmt.Fprintf(bw, "$$POLYLINE/%d,%d,%d", pl.ModelID, pl.Direction, len(pl.Points))
		for _, p := range pl.Points {
			fmt.Fprintf(bw, ",%g,%g", p.X(), p.Y())
		}
		fmt.Fprintln(bw)
	}
	for _, h := range layer.Hatches {
		fmt.Fprintf(bw, "$$HATCHES/%d/%d", h.ModelID, len(h.Points))
		for _, p := range h.Points {
			fmt.Fprintf(bw, ",%g,%g", p.X(), p.Y())
		}
		fmt.Fprintln(bw)
	}
	if err := bw.Flush(); err != nil {
		return 0, cerrors.New(cerrors.KindIO, "cliformat.Exporter.Advance", err)
	}

	span := e.maxZ - e.minZ
	if span <= 0 {
		return 1, nil
	}
	progress := (layer.Z - e.minZ) / span
	return progress, nil
}

// Finalize writes $$GEOMETRYEND and completes the export.
func (e *Exporter) Finalize() error {
	if e.phase != PhaseActive {
		return cerrors.New(cerrors.KindOther, "cliformat.Exporter.Finalize", errExporterWrongPhase)
	}
	bw := bufio.NewWriter(e.w)
	fmt.Fprintln(bw, "$$GEOMETRYEND")
	if err := bw.Flush(); err != nil {
		return cerrors.New(cerrors.KindIO, "cliformat.Exporter.Finalize", err)
	}
	e.phase = PhaseFinished
	return nil
}
