// Package videoprofile provides the fixed Resolution/FPS preset tables used
// to build a ConnectInfo's video profile (spec.md §3).
package videoprofile

// Profile describes the negotiated video stream parameters.
type Profile struct {
	Width   int
	Height  int
	Bitrate int // kbps
	MaxFPS  int
}

// Resolution is a preset video resolution.
type Resolution int

const (
	ResolutionUnknown Resolution = iota
	Res360p
	Res540p
	Res720p
	Res1080p
)

// FPS is a preset frame-rate cap.
type FPS int

const (
	FPSUnknown FPS = iota
	FPS30
	FPS60
)

var resolutionTable = map[Resolution]struct {
	Width, Height, Bitrate int
}{
	Res360p:  {640, 360, 2000},
	Res540p:  {960, 540, 6000},
	Res720p:  {1280, 720, 10000},
	Res1080p: {1920, 1080, 15000},
}

var fpsTable = map[FPS]int{
	FPS30: 30,
	FPS60: 60,
}

// Build assembles a Profile from a resolution and fps preset. Unknown
// presets zero the corresponding fields, per spec.md §3.
func Build(res Resolution, fps FPS) Profile {
	var p Profile
	if row, ok := resolutionTable[res]; ok {
		p.Width, p.Height, p.Bitrate = row.Width, row.Height, row.Bitrate
	}
	if v, ok := fpsTable[fps]; ok {
		p.MaxFPS = v
	}
	return p
}
