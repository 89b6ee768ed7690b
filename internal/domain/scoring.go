package domain

import "math"

const (
	// BasePoints is awarded for any correct answer.
	BasePoints = 1000
	// MaxSpeedBonus is added on top when no time has elapsed.
	MaxSpeedBonus = 500
)

// Score returns the points for a correct answer given the seconds left on the clock.
// The bonus decays linearly from MaxSpeedBonus to zero over the time limit.
func Score(timeRemaining, timeLimit float64) int {
	if timeLimit <= 0 {
		return BasePoints
	}
	return BasePoints + int(math.Floor(MaxSpeedBonus*timeRemaining/timeLimit))
}

// ClampElapsed bounds a reported elapsed time to [0, timeLimit].
func ClampElapsed(elapsed float64, timeLimit int) float64 {
	if elapsed < 0 {
		return 0
	}
	if limit := float64(timeLimit); elapsed > limit {
		return limit
	}
	return elapsed
}

// Grade scores a selected option against q. Incorrect answers always earn zero.
func Grade(q Question, selected int, elapsed float64) (bool, int) {
	if selected != q.CorrectAnswer {
		return false, 0
	}
	elapsed = ClampElapsed(elapsed, q.TimeLimit)
	return true, Score(float64(q.TimeLimit)-elapsed, float64(q.TimeLimit))
}
