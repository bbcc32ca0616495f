// Package mesh derives printable-model statistics from STL, OBJ and 3MF
// files: volume, surface area, bounding box, triangle count and whether the
// mesh is watertight.
package mesh

import (
	"archive/zip"
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/xml"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Analysis summarizes one model file. All lengths are reported in
// millimeters after unit conversion.
type Analysis struct {
	Units             string     `json:"units"`
	ScaleToMM         float64    `json:"scale_to_mm"`
	VolumeMM3         float64    `json:"volume_mm3"`
	SurfaceAreaMM2    float64    `json:"surface_area_mm2"`
	Watertight        bool       `json:"is_watertight"`
	ApproximateVolume bool       `json:"approximate_volume"`
	TriangleCount     int        `json:"triangle_count"`
	BBoxMM            [3]float64 `json:"bbox_mm"`
	CentroidMM        [3]float64 `json:"centroid_mm"`
}

type vec [3]float64

type triangle [3]vec

// Analyze loads a model file and measures it. STL and OBJ carry no unit
// metadata and are treated as millimeters; 3MF declares its unit.
func Analyze(path string) (*Analysis, error) {
	var (
		tris []triangle
		unit string
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".stl":
		tris, err = loadSTL(path)
		unit = "mm"
	case ".obj":
		tris, err = loadOBJ(path)
		unit = "mm"
	case ".3mf":
		tris, unit, err = load3MF(path)
	default:
		return nil, fmt.Errorf("unsupported model format %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	if len(tris) == 0 {
		return nil, errors.New("empty or unsupported mesh")
	}
	return measure(tris, unit), nil
}

// measure computes the statistics. Volume comes from the divergence theorem
// over signed tetrahedra; it is only exact for a closed, consistently wound
// mesh, so open meshes are flagged as approximate.
func measure(tris []triangle, unit string) *Analysis {
	scale := unitToMM(unit)

	min, max := tris[0][0], tris[0][0]
	var signedVol, area float64
	var centroid vec
	for _, t := range tris {
		for _, v := range t {
			for c := 0; c < 3; c++ {
				min[c] = math.Min(min[c], v[c])
				max[c] = math.Max(max[c], v[c])
			}
		}
		signedVol += dot(t[0], cross(t[1], t[2])) / 6.0

		a := norm(cross(sub(t[1], t[0]), sub(t[2], t[0]))) / 2.0
		area += a
		for c := 0; c < 3; c++ {
			centroid[c] += a * (t[0][c] + t[1][c] + t[2][c]) / 3.0
		}
	}
	if area > 0 {
		for c := 0; c < 3; c++ {
			centroid[c] /= area
		}
	}

	watertight := edgeManifold(tris)
	out := &Analysis{
		Units:             unit,
		ScaleToMM:         scale,
		VolumeMM3:         math.Abs(signedVol) * scale * scale * scale,
		SurfaceAreaMM2:    area * scale * scale,
		Watertight:        watertight,
		ApproximateVolume: !watertight,
		TriangleCount:     len(tris),
	}
	for c := 0; c < 3; c++ {
		out.BBoxMM[c] = (max[c] - min[c]) * scale
		out.CentroidMM[c] = centroid[c] * scale
	}
	return out
}

type edge struct{ a, b vec }

// edgeManifold reports whether every undirected edge is shared by exactly
// two triangles, the minimal closed-surface condition. Vertices are matched
// by exact coordinates, which holds for mesh files that duplicate shared
// vertices verbatim.
func edgeManifold(tris []triangle) bool {
	counts := make(map[edge]int, len(tris)*3)
	for _, t := range tris {
		for i := 0; i < 3; i++ {
			a, b := t[i], t[(i+1)%3]
			if vecLess(b, a) {
				a, b = b, a
			}
			counts[edge{a, b}]++
		}
	}
	for _, n := range counts {
		if n != 2 {
			return false
		}
	}
	return len(counts) > 0
}

func vecLess(a, b vec) bool {
	for c := 0; c < 3; c++ {
		if a[c] != b[c] {
			return a[c] < b[c]
		}
	}
	return false
}

func sub(a, b vec) vec { return vec{a[0] - b[0], a[1] - b[1], a[2] - b[2]} }

func dot(a, b vec) float64 { return a[0]*b[0] + a[1]*b[1] + a[2]*b[2] }

func cross(a, b vec) vec {
	return vec{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func norm(a vec) float64 { return math.Sqrt(dot(a, a)) }

func unitToMM(unit string) float64 {
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "micron":
		return 0.001
	case "", "mm", "millimeter", "millimetre":
		return 1
	case "cm", "centimeter", "centimetre":
		return 10
	case "m", "meter", "metre":
		return 1000
	case "in", "inch", "inches":
		return 25.4
	case "ft", "foot", "feet":
		return 304.8
	default:
		return 1
	}
}

const binarySTLHeader = 84

// loadSTL reads either STL flavor. Binary files are recognized by the exact
// size implied by their triangle count; ASCII files may start with "solid"
// just like many binary headers do, so size wins over the prefix.
func loadSTL(path string) ([]triangle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if len(data) >= binarySTLHeader {
		n := binary.LittleEndian.Uint32(data[80:84])
		if int(n) >= 0 && len(data) == binarySTLHeader+int(n)*50 {
			return parseBinarySTL(data, int(n)), nil
		}
	}
	return parseASCIISTL(data)
}

func parseBinarySTL(data []byte, n int) []triangle {
	tris := make([]triangle, 0, n)
	off := binarySTLHeader
	for i := 0; i < n; i++ {
		off += 12 // normal vector, recomputed from the vertices anyway
		var t triangle
		for v := 0; v < 3; v++ {
			for c := 0; c < 3; c++ {
				t[v][c] = float64(math.Float32frombits(binary.LittleEndian.Uint32(data[off:])))
				off += 4
			}
		}
		off += 2 // attribute byte count
		tris = append(tris, t)
	}
	return tris
}

func parseASCIISTL(data []byte) ([]triangle, error) {
	var tris []triangle
	var current triangle
	count := 0

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) != 4 || !strings.EqualFold(fields[0], "vertex") {
			continue
		}
		var v vec
		ok := true
		for c := 0; c < 3; c++ {
			f, err := strconv.ParseFloat(fields[c+1], 64)
			if err != nil {
				ok = false
				break
			}
			v[c] = f
		}
		if !ok {
			continue
		}
		current[count] = v
		count++
		if count == 3 {
			tris = append(tris, current)
			count = 0
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return tris, nil
}

// loadOBJ reads vertex and face lines, fan-triangulating polygonal faces.
// Texture and normal indices after "/" are ignored; negative indices count
// from the end per the OBJ convention.
func loadOBJ(path string) ([]triangle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var verts []vec
	var tris []triangle

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "v":
			if len(fields) < 4 {
				continue
			}
			var v vec
			ok := true
			for c := 0; c < 3; c++ {
				f64, err := strconv.ParseFloat(fields[c+1], 64)
				if err != nil {
					ok = false
					break
				}
				v[c] = f64
			}
			if ok {
				verts = append(verts, v)
			}
		case "f":
			if len(fields) < 4 {
				continue
			}
			idx := make([]int, 0, len(fields)-1)
			for _, token := range fields[1:] {
				i, ok := objIndex(token, len(verts))
				if !ok {
					idx = nil
					break
				}
				idx = append(idx, i)
			}
			for k := 1; k+1 < len(idx); k++ {
				tris = append(tris, triangle{verts[idx[0]], verts[idx[k]], verts[idx[k+1]]})
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return tris, nil
}

func objIndex(token string, nVerts int) (int, bool) {
	if i := strings.IndexByte(token, '/'); i >= 0 {
		token = token[:i]
	}
	n, err := strconv.Atoi(token)
	if err != nil {
		return 0, false
	}
	if n < 0 {
		n = nVerts + n
	} else {
		n--
	}
	if n < 0 || n >= nVerts {
		return 0, false
	}
	return n, true
}

// model3MF mirrors the slice of the 3MF core schema we need: per-mesh vertex
// and triangle lists. Component transforms are not applied; the raw object
// meshes are measured as stored.
type model3MF struct {
	Unit    string `xml:"unit,attr"`
	Objects []struct {
		Mesh struct {
			Vertices []struct {
				X float64 `xml:"x,attr"`
				Y float64 `xml:"y,attr"`
				Z float64 `xml:"z,attr"`
			} `xml:"vertices>vertex"`
			Triangles []struct {
				V1 int `xml:"v1,attr"`
				V2 int `xml:"v2,attr"`
				V3 int `xml:"v3,attr"`
			} `xml:"triangles>triangle"`
		} `xml:"mesh"`
	} `xml:"resources>object"`
}

func load3MF(path string) ([]triangle, string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, "", fmt.Errorf("open 3mf archive: %w", err)
	}
	defer zr.Close()

	var entry *zip.File
	for _, f := range zr.File {
		if strings.HasSuffix(strings.ToLower(f.Name), "3dmodel.model") {
			entry = f
			break
		}
	}
	if entry == nil {
		return nil, "", errors.New("3mf archive carries no 3dmodel.model")
	}

	rc, err := entry.Open()
	if err != nil {
		return nil, "", fmt.Errorf("open 3mf model entry: %w", err)
	}
	defer rc.Close()

	var model model3MF
	if err := xml.NewDecoder(rc).Decode(&model); err != nil {
		return nil, "", fmt.Errorf("parse 3mf model: %w", err)
	}

	unit := model.Unit
	if unit == "" {
		unit = "millimeter"
	}

	var tris []triangle
	for _, obj := range model.Objects {
		verts := make([]vec, len(obj.Mesh.Vertices))
		for i, v := range obj.Mesh.Vertices {
			verts[i] = vec{v.X, v.Y, v.Z}
		}
		for _, t := range obj.Mesh.Triangles {
			if t.V1 < 0 || t.V2 < 0 || t.V3 < 0 ||
				t.V1 >= len(verts) || t.V2 >= len(verts) || t.V3 >= len(verts) {
				continue
			}
			tris = append(tris, triangle{verts[t.V1], verts[t.V2], verts[t.V3]})
		}
	}
	return tris, unit, nil
}
