package videoprofile

import "testing"

func TestBuildKnownPresets(t *testing.T) {
	cases := []struct {
		res        Resolution
		fps        FPS
		wantW      int
		wantH      int
		wantBps    int
		wantMaxFPS int
	}{
		{Res360p, FPS30, 640, 360, 2000, 30},
		{Res540p, FPS60, 960, 540, 6000, 60},
		{Res720p, FPS30, 1280, 720, 10000, 30},
		{Res1080p, FPS60, 1920, 1080, 15000, 60},
	}
	for _, c := range cases {
		p := Build(c.res, c.fps)
		if p.Width != c.wantW || p.Height != c.wantH || p.Bitrate != c.wantBps || p.MaxFPS != c.wantMaxFPS {
			t.Fatalf("Build(%d,%d) = %+v, want {%d %d %d %d}", c.res, c.fps, p, c.wantW, c.wantH, c.wantBps, c.wantMaxFPS)
		}
	}
}

func TestBuildUnknownZeroes(t *testing.T) {
	p := Build(ResolutionUnknown, FPSUnknown)
	if p != (Profile{}) {
		t.Fatalf("expected zero profile for unknown presets, got %+v", p)
	}
	p2 := Build(Res720p, FPSUnknown)
	if p2.MaxFPS != 0 {
		t.Fatalf("expected zero MaxFPS for unknown fps preset, got %+v", p2)
	}
}
