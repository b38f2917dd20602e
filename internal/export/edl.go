package export

import (
	"fmt"
	"math"
	"strings"
)

// Cut is one span of a source placed on the output timeline. Start and End
// are source seconds; Rate above 1 plays the span faster.
type Cut struct {
	Name      string
	MediaPath string
	Start     float64
	End       float64
	Rate      float64
}

// RecordLength is how long the cut lasts on the output timeline.
func (c Cut) RecordLength() float64 {
	rate := c.Rate
	if rate <= 0 {
		rate = 1
	}
	return (c.End - c.Start) / rate
}

// GenerateEDL writes a CMX3600 edit list. Speed changes get an M2 motion
// effect line.
func GenerateEDL(cuts []Cut, title string, frameRate float64) string {
	fps := int(math.Round(frameRate))
	if fps <= 0 {
		fps = 30
	}

	isDropFrame := math.Abs(frameRate-29.97) < 0.01 || math.Abs(frameRate-59.94) < 0.01

	lines := []string{fmt.Sprintf("TITLE: %s", title)}
	if isDropFrame {
		lines = append(lines, "FCM: DROP FRAME")
	} else {
		lines = append(lines, "FCM: NON-DROP FRAME")
	}
	lines = append(lines, "")

	recordOffsetMs := 0
	for i, cut := range cuts {
		startMs := secondsToMs(cut.Start)
		endMs := secondsToMs(cut.End)
		recordMs := secondsToMs(cut.RecordLength())

		srcIn := msToTimecode(startMs, fps)
		srcOut := msToTimecode(endMs, fps)
		recIn := msToTimecode(recordOffsetMs, fps)
		recOut := msToTimecode(recordOffsetMs+recordMs, fps)

		lines = append(lines,
			fmt.Sprintf("%03d  %-8s %-5s C        %s %s %s %s", i+1, "AX", "AA/V", srcIn, srcOut, recIn, recOut),
		)
		if cut.Rate > 0 && math.Abs(cut.Rate-1) > 1e-9 {
			lines = append(lines, fmt.Sprintf("M2   %-8s %05.1f                %s", "AX", cut.Rate*float64(fps), srcIn))
		}
		lines = append(lines,
			fmt.Sprintf("* FROM CLIP NAME:  %s", cut.Name),
			fmt.Sprintf("* MEDIA PATH:  %s", cut.MediaPath),
		)

		recordOffsetMs += recordMs
	}

	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

func secondsToMs(s float64) int {
	return int(math.Round(s * 1000))
}

func msToTimecode(ms int, fps int) string {
	totalFrames := int(math.Round(float64(ms) * float64(fps) / 1000.0))
	frames := totalFrames % fps
	totalSeconds := totalFrames / fps
	seconds := totalSeconds % 60
	totalMinutes := totalSeconds / 60
	minutes := totalMinutes % 60
	hours := totalMinutes / 60
	return fmt.Sprintf("%02d:%02d:%02d:%02d", hours, minutes, seconds, frames)
}
