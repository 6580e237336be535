package nlq

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/metricsgate/metricsgate/internal/plan"
	"github.com/metricsgate/metricsgate/internal/schema"
)

// Deterministic parser for the most common Russian question shapes. A hit
// avoids the model round-trip entirely; the resulting plan still goes through
// the validator like any model-produced candidate.

var ruMonths = map[string]int{
	"января":   1,
	"февраля":  2,
	"марта":    3,
	"апреля":   4,
	"мая":      5,
	"июня":     6,
	"июля":     7,
	"августа":  8,
	"сентября": 9,
	"октября":  10,
	"ноября":   11,
	"декабря":  12,
}

var (
	ruDatePattern       = regexp.MustCompile(`(\d{1,2})\s+([а-я]+)\s+(\d{4})`)
	ruRangePattern      = regexp.MustCompile(`с\s+(\d{1,2})\s+([а-я]+)\s+(\d{4})\s+по\s+(\d{1,2})\s+([а-я]+)\s+(\d{4})`)
	ruShortRangePattern = regexp.MustCompile(`с\s+(\d{1,2})\s+по\s+(\d{1,2})\s+([а-я]+)\s+(\d{4})`)
	firstHoursPattern   = regexp.MustCompile(`первые\s+(\d+)\s+час`)
	creatorIDPattern    = regexp.MustCompile(`id\s+([a-z0-9-]+)`)
	numberPattern       = regexp.MustCompile(`\d[\d\s]*`)
	spacePattern        = regexp.MustCompile(`\s+`)
)

func normalizeQuestion(text string) string {
	text = strings.ToLower(text)
	text = strings.ReplaceAll(text, "ё", "е")
	return strings.TrimSpace(spacePattern.ReplaceAllString(text, " "))
}

func parseRuDate(fragment string) (string, bool) {
	match := ruDatePattern.FindStringSubmatch(fragment)
	if match == nil {
		return "", false
	}
	day, _ := strconv.Atoi(match[1])
	month, ok := ruMonths[match[2]]
	if !ok {
		return "", false
	}
	year, _ := strconv.Atoi(match[3])
	if day < 1 || day > 31 {
		return "", false
	}
	return fmt.Sprintf("%04d-%02d-%02d", year, month, day), true
}

func parseRuDateRange(text string) (string, string, bool) {
	if match := ruRangePattern.FindStringSubmatch(text); match != nil {
		from, okFrom := parseRuDate(match[1] + " " + match[2] + " " + match[3])
		to, okTo := parseRuDate(match[4] + " " + match[5] + " " + match[6])
		if okFrom && okTo {
			return from, to, true
		}
	}
	if match := ruShortRangePattern.FindStringSubmatch(text); match != nil {
		month, ok := ruMonths[match[3]]
		if !ok {
			return "", "", false
		}
		dayFrom, _ := strconv.Atoi(match[1])
		dayTo, _ := strconv.Atoi(match[2])
		year, _ := strconv.Atoi(match[4])
		from := fmt.Sprintf("%04d-%02d-%02d", year, month, dayFrom)
		to := fmt.Sprintf("%04d-%02d-%02d", year, month, dayTo)
		return from, to, true
	}
	return "", "", false
}

func metricFromText(text string, delta bool) string {
	switch {
	case strings.Contains(text, "просмотр"):
		if delta {
			return "delta_views_count"
		}
		return "views_count"
	case strings.Contains(text, "лайк"):
		if delta {
			return "delta_likes_count"
		}
		return "likes_count"
	case strings.Contains(text, "коммент"):
		if delta {
			return "delta_comments_count"
		}
		return "comments_count"
	case strings.Contains(text, "жалоб"):
		if delta {
			return "delta_reports_count"
		}
		return "reports_count"
	default:
		return ""
	}
}

func extractNumber(text string) (int64, bool) {
	candidates := numberPattern.FindAllString(text, -1)
	if len(candidates) == 0 {
		return 0, false
	}
	longest := candidates[0]
	for _, c := range candidates[1:] {
		if len(c) > len(longest) {
			longest = c
		}
	}
	value, err := strconv.ParseInt(strings.ReplaceAll(strings.TrimSpace(longest), " ", ""), 10, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

// ParseHeuristics maps well-known Russian question shapes onto plans without
// calling the model. It returns false for everything it does not recognize.
func ParseHeuristics(text string) (plan.Plan, bool) {
	value := normalizeQuestion(text)

	if match := firstHoursPattern.FindStringSubmatch(value); match != nil &&
		strings.Contains(value, "после публикации") && strings.Contains(value, "прирост") {
		if metric := metricFromText(value, true); metric != "" {
			hours, _ := strconv.Atoi(match[1])
			return plan.Plan{
				Source:      schema.TableSnapshots,
				Aggregation: schema.AggSumDeltaFirstHours,
				Field:       metric,
				Hours:       hours,
			}, true
		}
	}

	if strings.Contains(value, "сколько всего видео") &&
		(strings.Contains(value, "в системе") || strings.Contains(value, "есть")) {
		return plan.Plan{Source: schema.TableVideos, Aggregation: schema.AggCountRows, Field: "*"}, true
	}

	if strings.Contains(value, "сколько видео у креатора") && strings.Contains(value, "вышло") {
		creator := creatorIDPattern.FindStringSubmatch(value)
		from, to, okRange := parseRuDateRange(value)
		if creator != nil && okRange {
			return plan.Plan{
				Source:      schema.TableVideos,
				Aggregation: schema.AggCountRows,
				Field:       "*",
				Filters: []plan.Filter{
					{Field: "creator_id", Op: schema.OpEq, Value: creator[1]},
					{Field: "video_created_at", Op: schema.OpDateBetween, From: from, To: to},
				},
			}, true
		}
	}

	if strings.Contains(value, "сколько видео у креатора") &&
		strings.Contains(value, "набрал") && strings.Contains(value, "больше") {
		creator := creatorIDPattern.FindStringSubmatch(value)
		metric := metricFromText(value, false)
		threshold, okNumber := extractNumber(value)
		if creator != nil && metric != "" && okNumber {
			return plan.Plan{
				Source:      schema.TableVideos,
				Aggregation: schema.AggCountRows,
				Field:       "*",
				Filters: []plan.Filter{
					{Field: "creator_id", Op: schema.OpEq, Value: creator[1]},
					{Field: metric, Op: schema.OpGt, Value: threshold},
				},
			}, true
		}
	}

	if strings.Contains(value, "сколько видео") && strings.Contains(value, "больше") {
		metric := metricFromText(value, false)
		threshold, okNumber := extractNumber(value)
		if metric != "" && okNumber {
			return plan.Plan{
				Source:      schema.TableVideos,
				Aggregation: schema.AggCountRows,
				Field:       "*",
				Filters:     []plan.Filter{{Field: metric, Op: schema.OpGt, Value: threshold}},
			}, true
		}
	}

	if strings.Contains(value, "в сумме вырос") {
		metric := metricFromText(value, true)
		if metric != "" {
			if from, to, ok := parseRuDateRange(value); ok {
				return plan.Plan{
					Source:      schema.TableSnapshots,
					Aggregation: schema.AggSum,
					Field:       metric,
					Filters: []plan.Filter{
						{Field: "created_at", Op: schema.OpDateBetween, From: from, To: to},
					},
				}, true
			}
			if day, ok := parseRuDate(value); ok {
				return plan.Plan{
					Source:      schema.TableSnapshots,
					Aggregation: schema.AggSum,
					Field:       metric,
					Filters:     []plan.Filter{{Field: "created_at", Op: schema.OpDateOn, Value: day}},
				}, true
			}
		}
	}

	if strings.Contains(value, "сколько разных видео") && strings.Contains(value, "новые просмотр") {
		if day, ok := parseRuDate(value); ok {
			return plan.Plan{
				Source:      schema.TableSnapshots,
				Aggregation: schema.AggCountDistinct,
				Field:       "video_id",
				Filters: []plan.Filter{
					{Field: "delta_views_count", Op: schema.OpGt, Value: int64(0)},
					{Field: "created_at", Op: schema.OpDateOn, Value: day},
				},
			}, true
		}
	}

	return plan.Plan{}, false
}
