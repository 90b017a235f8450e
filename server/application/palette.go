package application

import (
	"math"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// 黄金角で色相を回すと隣り合う色が離れる
const goldenAngle = 360 * (1 - 1/math.Phi)

// Palette は参加順に見分けやすい船の色を払い出します。
type Palette struct {
	hue        float64
	saturation float64
	value      float64
}

func NewPalette(startHue float64) *Palette {
	hue := math.Mod(startHue, 360)
	if hue < 0 {
		hue += 360
	}
	return &Palette{
		hue:        hue,
		saturation: 0.75,
		value:      0.95,
	}
}

// Next は次の色を "#rrggbb" 形式で返します。
func (p *Palette) Next() string {
	c := colorful.Hsv(p.hue, p.saturation, p.value)
	p.hue = math.Mod(p.hue+goldenAngle, 360)
	return c.Clamped().Hex()
}
