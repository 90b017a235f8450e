package domain

import "math"

// 描画面 (600x600) の中心がシミュレーション座標の原点になる。
const WindowOffset = 300.0

// Vector はシミュレーション座標系の2次元ベクトルです。
// 原点中心・y軸上向きで、すべての操作は新しい値を返します。
type Vector struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func NewVector(x, y float64) Vector {
	return Vector{X: x, Y: y}
}

// Add は平行移動したベクトルを返します。
func (v Vector) Add(o Vector) Vector {
	return Vector{X: v.X + o.X, Y: v.Y + o.Y}
}

// Scale は一様にスケールしたベクトルを返します。減衰にも使います。
func (v Vector) Scale(a float64) Vector {
	return Vector{X: v.X * a, Y: v.Y * a}
}

// Rotate は原点まわりにrラジアン回転したベクトルを返します。
func (v Vector) Rotate(r float64) Vector {
	sin, cos := math.Sincos(r)
	return Vector{
		X: v.X*cos - v.Y*sin,
		Y: v.X*sin + v.Y*cos,
	}
}

// Dist は2点間のユークリッド距離を返します。
func (v Vector) Dist(o Vector) float64 {
	return math.Hypot(v.X-o.X, v.Y-o.Y)
}

func (v Vector) Norm() float64 {
	return math.Hypot(v.X, v.Y)
}

// WindowX は描画面のx座標に射影します。
func (v Vector) WindowX() float64 {
	return v.X + WindowOffset
}

// WindowY は描画面のy座標に射影します。y軸は反転します。
func (v Vector) WindowY() float64 {
	return -v.Y + WindowOffset
}
