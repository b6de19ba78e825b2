package util

import (
	"math"
	"time"
)

// Ranking weights for local feed ordering
const (
	WeightLike  = 1.0
	WeightBoost = 2.0
	WeightReply = 1.5
	ScaleFactor = 100.0
	Gravity     = 1.5
)

// CalculateScore ranks a post by weighted engagement, log-smoothed and decayed by age in hours
func CalculateScore(createdAt time.Time, likes, boosts, replies int) float64 {
	return scoreAt(time.Now(), createdAt, likes, boosts, replies)
}

func scoreAt(now, createdAt time.Time, likes, boosts, replies int) float64 {
	hours := now.Sub(createdAt).Hours()
	if hours < 0 {
		hours = 0
	}

	weighted := float64(likes)*WeightLike + float64(boosts)*WeightBoost + float64(replies)*WeightReply
	if weighted < 0 {
		weighted = 0
	}

	numerator := math.Log10(weighted+1) * ScaleFactor
	return numerator / math.Pow(hours+2, Gravity)
}
