package retarget

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"

	"github.com/banshee-data/mocap/internal/mocap/body"
	"github.com/banshee-data/mocap/internal/mocap/geom"
)

// ErrInvalidRig is returned for rig files that fail validation.
var ErrInvalidRig = errors.New("invalid rig")

//go:embed default_rig.yaml
var defaultRigYAML []byte

// DigitKind marks the bones of a finger or thumb chain.
type DigitKind int

const (
	NotDigit DigitKind = iota
	Finger
	Thumb
)

// Bone is one avatar bone in its bind pose.
type Bone struct {
	Name string
	// Joint drives the bone; NoJoint leaves it in its bind pose relative
	// to its parent.
	Joint  body.JointType
	Parent int // index into Rig.Bones, -1 for the root
	// Position is the bone head in avatar space.
	Position r3.Vec
	// Bind is the bone's avatar-space rotation in the bind pose.
	Bind    quat.Number
	Digit   DigitKind
	Enabled bool
}

// Rig is an avatar skeleton binding. Bones are ordered parents first and
// Bones[0] is the root.
type Rig struct {
	Name string
	// Rotation orients the whole avatar in the world.
	Rotation quat.Number
	Bones    []Bone
}

// Index returns the index of the bone called name.
func (r *Rig) Index(name string) (int, bool) {
	for i, b := range r.Bones {
		if b.Name == name {
			return i, true
		}
	}
	return -1, false
}

type rigFile struct {
	Name     string     `yaml:"name" validate:"required"`
	Rotation []float64  `yaml:"rotation" validate:"omitempty,len=4"`
	Bones    []boneFile `yaml:"bones" validate:"required,min=1,dive"`
}

type boneFile struct {
	Name     string    `yaml:"name" validate:"required"`
	Parent   string    `yaml:"parent"`
	Joint    string    `yaml:"joint"`
	Position []float64 `yaml:"position" validate:"required,len=3"`
	Bind     []float64 `yaml:"bind" validate:"omitempty,len=4"`
	Digit    string    `yaml:"digit" validate:"omitempty,oneof=finger thumb"`
	Disabled bool      `yaml:"disabled"`
}

// LoadRig reads and validates a YAML rig file.
func LoadRig(path string) (*Rig, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read rig: %w", err)
	}
	rig, err := ParseRig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rig, nil
}

// ParseRig decodes and validates a YAML rig.
func ParseRig(data []byte) (*Rig, error) {
	var f rigFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRig, err)
	}
	if err := validator.New().Struct(f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRig, err)
	}

	rot, err := parseRotation(f.Rotation)
	if err != nil {
		return nil, fmt.Errorf("%w: rig rotation: %v", ErrInvalidRig, err)
	}
	rig := &Rig{Name: f.Name, Rotation: rot, Bones: make([]Bone, 0, len(f.Bones))}
	index := make(map[string]int, len(f.Bones))

	for i, bf := range f.Bones {
		if _, dup := index[bf.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate bone %q", ErrInvalidRig, bf.Name)
		}
		b := Bone{
			Name:     bf.Name,
			Joint:    body.NoJoint,
			Parent:   -1,
			Position: r3.Vec{X: bf.Position[0], Y: bf.Position[1], Z: bf.Position[2]},
			Enabled:  !bf.Disabled,
		}
		switch {
		case i == 0 && bf.Parent != "":
			return nil, fmt.Errorf("%w: root bone %q has a parent", ErrInvalidRig, bf.Name)
		case i > 0:
			p, ok := index[bf.Parent]
			if !ok {
				return nil, fmt.Errorf("%w: bone %q: parent %q must be declared before it", ErrInvalidRig, bf.Name, bf.Parent)
			}
			b.Parent = p
		}
		if bf.Joint != "" {
			j, ok := body.ParseJointType(bf.Joint)
			if !ok {
				return nil, fmt.Errorf("%w: bone %q: unknown joint %q", ErrInvalidRig, bf.Name, bf.Joint)
			}
			b.Joint = j
		}
		if b.Bind, err = parseRotation(bf.Bind); err != nil {
			return nil, fmt.Errorf("%w: bone %q: %v", ErrInvalidRig, bf.Name, err)
		}
		if b.Digit, err = parseDigit(bf.Digit, b.Joint); err != nil {
			return nil, fmt.Errorf("%w: bone %q: %v", ErrInvalidRig, bf.Name, err)
		}
		if !geom.IsFiniteVec(b.Position) {
			return nil, fmt.Errorf("%w: bone %q: non-finite position", ErrInvalidRig, bf.Name)
		}
		index[bf.Name] = i
		rig.Bones = append(rig.Bones, b)
	}
	return rig, nil
}

// parseRotation reads [w, x, y, z]; empty means identity.
func parseRotation(v []float64) (quat.Number, error) {
	if len(v) == 0 {
		return geom.Identity, nil
	}
	q, ok := geom.Normalize(quat.Number{Real: v[0], Imag: v[1], Jmag: v[2], Kmag: v[3]})
	if !ok {
		return quat.Number{}, fmt.Errorf("degenerate rotation %v", v)
	}
	return q, nil
}

func parseDigit(kind string, j body.JointType) (DigitKind, error) {
	switch kind {
	case "":
		return NotDigit, nil
	case "finger":
		if j != body.FingersLeft && j != body.FingersRight {
			return NotDigit, fmt.Errorf("finger bones must map a Fingers joint, got %v", j)
		}
		return Finger, nil
	case "thumb":
		if j != body.ThumbsLeft && j != body.ThumbsRight {
			return NotDigit, fmt.Errorf("thumb bones must map a Thumbs joint, got %v", j)
		}
		return Thumb, nil
	}
	return NotDigit, fmt.Errorf("unknown digit kind %q", kind)
}

// DefaultRig returns the built-in humanoid rig, bound in the T-pose with
// its pelvis at the origin.
func DefaultRig() *Rig {
	rig, err := ParseRig(defaultRigYAML)
	if err != nil {
		panic(fmt.Sprintf("default rig: %v", err))
	}
	return rig
}
