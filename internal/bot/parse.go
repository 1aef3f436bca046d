package bot

import (
	"fmt"
	"strconv"
	"strings"

	"notice_hub/internal/model"
)

// RuleArgs holds the parsed arguments of a /subscribe command.
type RuleArgs struct {
	Keywords      []string
	ExamNames     []string
	Types         []model.NoticeType
	Locations     []string
	MinTrustLevel int
}

// ParseSubscribe parses arguments for /subscribe.
// Format: [-t type] [-e exam] [-l location] [-m trust] [keyword, keyword...]
// Flags may repeat. Underscores in flag values stand for spaces.
func ParseSubscribe(args string) (RuleArgs, error) {
	var out RuleArgs
	parts := strings.Fields(args)
	var rest []string

	for i := 0; i < len(parts); i++ {
		flag := parts[i]
		if !strings.HasPrefix(flag, "-") || len(flag) != 2 {
			rest = append(rest, flag)
			continue
		}
		if i+1 >= len(parts) {
			return RuleArgs{}, fmt.Errorf("flag %s needs a value", flag)
		}
		i++
		value := strings.ReplaceAll(parts[i], "_", " ")

		switch flag {
		case "-t":
			typ := model.NoticeType(strings.ToUpper(value))
			if !typ.Valid() {
				return RuleArgs{}, fmt.Errorf("invalid type %q, use: exam, scholarship, result, admission, other", value)
			}
			out.Types = append(out.Types, typ)
		case "-e":
			out.ExamNames = append(out.ExamNames, value)
		case "-l":
			out.Locations = append(out.Locations, value)
		case "-m":
			n, err := strconv.Atoi(value)
			if err != nil || n < model.MinTrustLevel || n > model.MaxTrustLevel {
				return RuleArgs{}, fmt.Errorf("trust level must be between %d and %d", model.MinTrustLevel, model.MaxTrustLevel)
			}
			out.MinTrustLevel = n
		default:
			return RuleArgs{}, fmt.Errorf("unknown flag %s", flag)
		}
	}

	for _, kw := range strings.Split(strings.Join(rest, " "), ",") {
		if kw = strings.TrimSpace(kw); kw != "" {
			out.Keywords = append(out.Keywords, kw)
		}
	}

	if len(out.Keywords)+len(out.ExamNames)+len(out.Types)+len(out.Locations) == 0 {
		return RuleArgs{}, fmt.Errorf("at least one keyword, exam, type or location is required")
	}
	return out, nil
}

// ParseIndexArg extracts a 1-based rule number from a command argument string.
func ParseIndexArg(args string) (int, error) {
	s := strings.TrimSpace(args)
	if s == "" {
		return 0, fmt.Errorf("rule number is required")
	}
	n, err := strconv.Atoi(strings.Fields(s)[0])
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid rule number %q", s)
	}
	return n, nil
}
