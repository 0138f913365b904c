package assemble

import (
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/pbaille/notes/internal/domain"
)

var dailyPattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)

// DailyDate returns the date of a daily plan file. A file is a daily plan
// when its name, without extension, contains a valid YYYY-MM-DD date.
func DailyDate(filePath string) (time.Time, bool) {
	base := path.Base(strings.ReplaceAll(filePath, `\`, "/"))
	stem := strings.TrimSuffix(base, path.Ext(base))

	match := dailyPattern.FindString(stem)
	if match == "" {
		return time.Time{}, false
	}

	date, err := time.Parse("2006-01-02", match)
	if err != nil {
		return time.Time{}, false
	}
	return date, true
}

// IsDailyPlan reports whether filePath names a daily plan file
func IsDailyPlan(filePath string) bool {
	_, ok := DailyDate(filePath)
	return ok
}

// Partition splits files into regular notes and daily plans, keeping order
func Partition(files []domain.RetrievedFile) (regular, daily []domain.RetrievedFile) {
	regular = []domain.RetrievedFile{}
	daily = []domain.RetrievedFile{}
	for _, f := range files {
		if IsDailyPlan(f.FilePath) {
			daily = append(daily, f)
		} else {
			regular = append(regular, f)
		}
	}
	return regular, daily
}
