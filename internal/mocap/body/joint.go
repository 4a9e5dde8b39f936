package body

import "gonum.org/v1/gonum/spatial/r3"

// JointType indexes a joint in every per-body array. The first JointCount
// values are the sensor's canonical joints in wire order; the rest are
// composite joints derived by the solver.
type JointType int

const (
	SpineBase JointType = iota
	SpineMid
	Neck
	Head
	ShoulderLeft
	ElbowLeft
	WristLeft
	HandLeft
	ShoulderRight
	ElbowRight
	WristRight
	HandRight
	HipLeft
	KneeLeft
	AnkleLeft
	FootLeft
	HipRight
	KneeRight
	AnkleRight
	FootRight
	SpineShoulder
	HandTipLeft
	ThumbLeft
	HandTipRight
	ThumbRight

	// Composite joints.
	ClavicleLeft
	ClavicleRight
	FingersLeft
	FingersRight
	ThumbsLeft
	ThumbsRight
)

const (
	// JointCount is the number of canonical joints reported by the sensor.
	JointCount = 25
	// AllJointCount includes the composite joints.
	AllJointCount = 31
	// NoJoint marks an absent parent or child.
	NoJoint JointType = -1
)

var jointNames = [AllJointCount]string{
	"SpineBase", "SpineMid", "Neck", "Head",
	"ShoulderLeft", "ElbowLeft", "WristLeft", "HandLeft",
	"ShoulderRight", "ElbowRight", "WristRight", "HandRight",
	"HipLeft", "KneeLeft", "AnkleLeft", "FootLeft",
	"HipRight", "KneeRight", "AnkleRight", "FootRight",
	"SpineShoulder", "HandTipLeft", "ThumbLeft", "HandTipRight", "ThumbRight",
	"ClavicleLeft", "ClavicleRight", "FingersLeft", "FingersRight", "ThumbsLeft", "ThumbsRight",
}

// parents holds the hierarchy parent of every joint.
var parents = [AllJointCount]JointType{
	SpineBase:     NoJoint,
	SpineMid:      SpineBase,
	Neck:          SpineShoulder,
	Head:          Neck,
	ShoulderLeft:  SpineShoulder,
	ElbowLeft:     ShoulderLeft,
	WristLeft:     ElbowLeft,
	HandLeft:      WristLeft,
	ShoulderRight: SpineShoulder,
	ElbowRight:    ShoulderRight,
	WristRight:    ElbowRight,
	HandRight:     WristRight,
	HipLeft:       SpineBase,
	KneeLeft:      HipLeft,
	AnkleLeft:     KneeLeft,
	FootLeft:      AnkleLeft,
	HipRight:      SpineBase,
	KneeRight:     HipRight,
	AnkleRight:    KneeRight,
	FootRight:     AnkleRight,
	SpineShoulder: SpineMid,
	HandTipLeft:   HandLeft,
	ThumbLeft:     HandLeft,
	HandTipRight:  HandRight,
	ThumbRight:    HandRight,
	ClavicleLeft:  SpineShoulder,
	ClavicleRight: SpineShoulder,
	FingersLeft:   HandLeft,
	FingersRight:  HandRight,
	ThumbsLeft:    HandLeft,
	ThumbsRight:   HandRight,
}

// children holds the joint whose direction drives each joint's rotation.
var children = [AllJointCount]JointType{
	SpineBase:     SpineMid,
	SpineMid:      SpineShoulder,
	Neck:          Head,
	Head:          NoJoint,
	ShoulderLeft:  ElbowLeft,
	ElbowLeft:     WristLeft,
	WristLeft:     HandLeft,
	HandLeft:      HandTipLeft,
	ShoulderRight: ElbowRight,
	ElbowRight:    WristRight,
	WristRight:    HandRight,
	HandRight:     HandTipRight,
	HipLeft:       KneeLeft,
	KneeLeft:      AnkleLeft,
	AnkleLeft:     FootLeft,
	FootLeft:      NoJoint,
	HipRight:      KneeRight,
	KneeRight:     AnkleRight,
	AnkleRight:    FootRight,
	FootRight:     NoJoint,
	SpineShoulder: Neck,
	HandTipLeft:   NoJoint,
	ThumbLeft:     NoJoint,
	HandTipRight:  NoJoint,
	ThumbRight:    NoJoint,
	ClavicleLeft:  ShoulderLeft,
	ClavicleRight: ShoulderRight,
	FingersLeft:   HandTipLeft,
	FingersRight:  HandTipRight,
	ThumbsLeft:    ThumbLeft,
	ThumbsRight:   ThumbRight,
}

// mirrors maps each joint to its left/right counterpart; centre joints map
// to themselves.
var mirrors = [AllJointCount]JointType{
	SpineBase:     SpineBase,
	SpineMid:      SpineMid,
	Neck:          Neck,
	Head:          Head,
	ShoulderLeft:  ShoulderRight,
	ElbowLeft:     ElbowRight,
	WristLeft:     WristRight,
	HandLeft:      HandRight,
	ShoulderRight: ShoulderLeft,
	ElbowRight:    ElbowLeft,
	WristRight:    WristLeft,
	HandRight:     HandLeft,
	HipLeft:       HipRight,
	KneeLeft:      KneeRight,
	AnkleLeft:     AnkleRight,
	FootLeft:      FootRight,
	HipRight:      HipLeft,
	KneeRight:     KneeLeft,
	AnkleRight:    AnkleLeft,
	FootRight:     FootLeft,
	SpineShoulder: SpineShoulder,
	HandTipLeft:   HandTipRight,
	ThumbLeft:     ThumbRight,
	HandTipRight:  HandTipLeft,
	ThumbRight:    ThumbLeft,
	ClavicleLeft:  ClavicleRight,
	ClavicleRight: ClavicleLeft,
	FingersLeft:   FingersRight,
	FingersRight:  FingersLeft,
	ThumbsLeft:    ThumbsRight,
	ThumbsRight:   ThumbsLeft,
}

// bindDirections is the T-pose direction of the bone ending at each joint
// (parent to joint) for a user facing the sensor.
var bindDirections = [AllJointCount]r3.Vec{
	SpineBase:     {Y: 1},
	SpineMid:      {Y: 1},
	Neck:          {Y: 1},
	Head:          {Y: 1},
	ShoulderLeft:  {X: -1},
	ElbowLeft:     {X: -1},
	WristLeft:     {X: -1},
	HandLeft:      {X: -1},
	ShoulderRight: {X: 1},
	ElbowRight:    {X: 1},
	WristRight:    {X: 1},
	HandRight:     {X: 1},
	HipLeft:       {X: -1},
	KneeLeft:      {Y: -1},
	AnkleLeft:     {Y: -1},
	FootLeft:      {Z: -1},
	HipRight:      {X: 1},
	KneeRight:     {Y: -1},
	AnkleRight:    {Y: -1},
	FootRight:     {Z: -1},
	SpineShoulder: {Y: 1},
	HandTipLeft:   {X: -1},
	ThumbLeft:     {Z: -1},
	HandTipRight:  {X: 1},
	ThumbRight:    {Z: -1},
	ClavicleLeft:  {X: -1},
	ClavicleRight: {X: 1},
	FingersLeft:   {X: -1},
	FingersRight:  {X: 1},
	ThumbsLeft:    {Z: -1},
	ThumbsRight:   {Z: -1},
}

// SolveOrder lists the canonical joints parents-first.
var SolveOrder = [JointCount]JointType{
	SpineBase, SpineMid, SpineShoulder, Neck, Head,
	ShoulderLeft, ElbowLeft, WristLeft, HandLeft, HandTipLeft, ThumbLeft,
	ShoulderRight, ElbowRight, WristRight, HandRight, HandTipRight, ThumbRight,
	HipLeft, KneeLeft, AnkleLeft, FootLeft,
	HipRight, KneeRight, AnkleRight, FootRight,
}

// Composites lists the composite joints in solve order.
var Composites = [AllJointCount - JointCount]JointType{
	ClavicleLeft, ClavicleRight, FingersLeft, FingersRight, ThumbsLeft, ThumbsRight,
}

// Valid reports whether j indexes a joint array.
func (j JointType) Valid() bool {
	return j >= 0 && j < AllJointCount
}

// IsComposite reports whether j is derived rather than sensed.
func (j JointType) IsComposite() bool {
	return j >= JointCount && j < AllJointCount
}

func (j JointType) String() string {
	if !j.Valid() {
		return "None"
	}
	return jointNames[j]
}

// Parent returns the hierarchy parent of j, NoJoint for the root.
func (j JointType) Parent() JointType {
	if !j.Valid() {
		return NoJoint
	}
	return parents[j]
}

// Child returns the joint that defines j's bone direction, NoJoint for leaves.
func (j JointType) Child() JointType {
	if !j.Valid() {
		return NoJoint
	}
	return children[j]
}

// Mirror returns the joint on the opposite side of the body.
func (j JointType) Mirror() JointType {
	if !j.Valid() {
		return NoJoint
	}
	return mirrors[j]
}

// BindDirection returns the T-pose direction of the bone from j's parent to j.
func (j JointType) BindDirection() r3.Vec {
	if !j.Valid() {
		return r3.Vec{}
	}
	return bindDirections[j]
}

// IsLeft reports whether j is on the user's left side.
func (j JointType) IsLeft() bool {
	return j.Side() < 0
}

// Side returns -1 for left joints, +1 for right joints and 0 for the centre line.
func (j JointType) Side() int {
	if !j.Valid() || mirrors[j] == j {
		return 0
	}
	switch j {
	case ShoulderLeft, ElbowLeft, WristLeft, HandLeft, HipLeft, KneeLeft, AnkleLeft, FootLeft,
		HandTipLeft, ThumbLeft, ClavicleLeft, FingersLeft, ThumbsLeft:
		return -1
	}
	return 1
}

// ParseJointType returns the joint with the given name.
func ParseJointType(name string) (JointType, bool) {
	for i, n := range jointNames {
		if n == name {
			return JointType(i), true
		}
	}
	return NoJoint, false
}
