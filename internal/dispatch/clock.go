package dispatch

import "time"

var now = time.Now

func since(start time.Time) float64 {
	return now().Sub(start).Seconds()
}
