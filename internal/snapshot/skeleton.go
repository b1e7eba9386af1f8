package snapshot

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	"duruon/internal/models"
)

// 渲染参数：纯色背景上只画骨架，不含任何影像内容（隐私）
const (
	drawMinConfidence = 0.2 // 低于该置信度的关键点不参与渲染
	jointRadius       = 4
	imageWidth        = 480
	imageHeight       = 480
)

var (
	backgroundColor = color.RGBA{R: 24, G: 24, B: 32, A: 255}
	boneColor       = color.RGBA{R: 90, G: 200, B: 250, A: 255}
	jointColor      = color.RGBA{R: 255, G: 214, B: 10, A: 255}
)

// Render 把姿态帧渲染为匿名骨架 PNG
// 可渲染的关键点不足两个时返回错误（没有可画的内容）
func Render(frame *models.PoseFrame) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, imageWidth, imageHeight))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: backgroundColor}, image.Point{}, draw.Src)

	visible := 0
	for _, name := range models.COCO17 {
		if kp, ok := frame.Keypoint(name); ok && kp.Score >= drawMinConfidence {
			visible++
		}
	}
	if visible < 2 {
		return nil, fmt.Errorf("not enough visible keypoints to render: %d", visible)
	}

	// 连线
	for _, edge := range models.SkeletonEdges {
		a, okA := frame.Keypoint(edge[0])
		b, okB := frame.Keypoint(edge[1])
		if !okA || !okB || a.Score < drawMinConfidence || b.Score < drawMinConfidence {
			continue
		}
		drawLine(img, toPixel(a), toPixel(b), boneColor)
	}

	// 关节点
	for _, name := range models.COCO17 {
		kp, ok := frame.Keypoint(name)
		if !ok || kp.Score < drawMinConfidence {
			continue
		}
		drawDot(img, toPixel(kp), jointRadius, jointColor)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

func toPixel(kp models.Keypoint) image.Point {
	x := int(kp.X * float64(imageWidth))
	y := int(kp.Y * float64(imageHeight))
	return image.Point{X: clampInt(x, 0, imageWidth-1), Y: clampInt(y, 0, imageHeight-1)}
}

// drawLine Bresenham 直线
func drawLine(img *image.RGBA, from, to image.Point, c color.RGBA) {
	dx := abs(to.X - from.X)
	dy := -abs(to.Y - from.Y)
	sx := 1
	if from.X > to.X {
		sx = -1
	}
	sy := 1
	if from.Y > to.Y {
		sy = -1
	}
	err := dx + dy

	x, y := from.X, from.Y
	for {
		img.SetRGBA(x, y, c)
		if x == to.X && y == to.Y {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x += sx
		}
		if e2 <= dx {
			err += dx
			y += sy
		}
	}
}

func drawDot(img *image.RGBA, center image.Point, radius int, c color.RGBA) {
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy > radius*radius {
				continue
			}
			x, y := center.X+dx, center.Y+dy
			if x < 0 || x >= imageWidth || y < 0 || y >= imageHeight {
				continue
			}
			img.SetRGBA(x, y, c)
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
