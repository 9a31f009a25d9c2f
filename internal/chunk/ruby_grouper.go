package chunk

import (
	"regexp"
	"strings"
)

// RubyGroupType categorizes a run of Ruby class-body lines that survive
// method extraction (associations, validations, callbacks, and so on).
type RubyGroupType string

const (
	RubyGroupAssociation      RubyGroupType = "association"
	RubyGroupValidation       RubyGroupType = "validation"
	RubyGroupScope            RubyGroupType = "scope"
	RubyGroupCallback         RubyGroupType = "callback"
	RubyGroupInclude          RubyGroupType = "include"
	RubyGroupAttribute        RubyGroupType = "attribute"
	RubyGroupDelegate         RubyGroupType = "delegate"
	RubyGroupEnum             RubyGroupType = "enum"
	RubyGroupStateMachine     RubyGroupType = "state_machine"
	RubyGroupNestedAttributes RubyGroupType = "nested_attributes"
	RubyGroupConcernHook      RubyGroupType = "concern_hook"
	RubyGroupOther            RubyGroupType = "other"
)

// rubyKeywordGroups maps a class-body line's leading identifier to its group
// type. Unrecognized keywords fall through to RubyGroupOther.
var rubyKeywordGroups = map[string]RubyGroupType{
	"belongs_to":               RubyGroupAssociation,
	"has_one":                  RubyGroupAssociation,
	"has_many":                 RubyGroupAssociation,
	"has_and_belongs_to_many":  RubyGroupAssociation,

	"validates":               RubyGroupValidation,
	"validate":                RubyGroupValidation,
	"validates_presence_of":   RubyGroupValidation,
	"validates_uniqueness_of": RubyGroupValidation,
	"validates_associated":    RubyGroupValidation,
	"validates_each":          RubyGroupValidation,
	"validates_with":          RubyGroupValidation,

	"scope": RubyGroupScope,

	"before_save": RubyGroupCallback, "after_save": RubyGroupCallback,
	"before_create": RubyGroupCallback, "after_create": RubyGroupCallback,
	"before_update": RubyGroupCallback, "after_update": RubyGroupCallback,
	"before_destroy": RubyGroupCallback, "after_destroy": RubyGroupCallback,
	"before_validation": RubyGroupCallback, "after_validation": RubyGroupCallback,
	"around_save": RubyGroupCallback, "around_create": RubyGroupCallback,
	"around_update": RubyGroupCallback, "around_destroy": RubyGroupCallback,
	"after_commit": RubyGroupCallback, "after_rollback": RubyGroupCallback,
	"after_initialize": RubyGroupCallback, "after_find": RubyGroupCallback,

	"include": RubyGroupInclude,
	"extend":  RubyGroupInclude,
	"prepend": RubyGroupInclude,

	"attr_accessor": RubyGroupAttribute, "attr_reader": RubyGroupAttribute,
	"attr_writer": RubyGroupAttribute, "attr_accessible": RubyGroupAttribute,
	"has_secure_password": RubyGroupAttribute, "has_secure_token": RubyGroupAttribute,

	"delegate": RubyGroupDelegate,

	"enum": RubyGroupEnum,

	"state_machine": RubyGroupStateMachine,
	"aasm":          RubyGroupStateMachine,

	"accepts_nested_attributes_for": RubyGroupNestedAttributes,

	"included":      RubyGroupConcernHook,
	"extended":      RubyGroupConcernHook,
	"class_methods": RubyGroupConcernHook,
}

// transparentBlockKeywords open `do...end` blocks whose opening and closing
// lines are dropped entirely; their interior is classified as if it
// appeared directly in the enclosing body.
var transparentBlockKeywords = map[string]bool{
	"included":      true,
	"extended":      true,
	"class_methods": true,
}

// otherStatementKeywords always start a fresh RubyGroupOther group, even if
// the preceding group was also "other" in type but logically unrelated.
var otherStatementKeywords = map[string]bool{
	"self": true, "class": true, "module": true, "def": true,
	"private": true, "public": true, "protected": true,
}

var rubyConstantRe = regexp.MustCompile(`^[A-Z][A-Z_0-9]*$`)

// LineRange is an inclusive, 1-indexed line span.
type LineRange struct {
	Start int
	End   int
}

// RubyGroup is one classified, possibly non-contiguous run of class-body
// lines sharing a RubyGroupType.
type RubyGroup struct {
	Type       RubyGroupType
	Content    string
	LineRanges []LineRange
}

// rubyLineState tracks the block/brace nesting a line classification walk is
// currently inside.
type rubyLineState struct {
	blockDepth       int // do...end nesting, including transparent blocks
	braceDepth       int // {...} nesting
	inTransparent    bool
	transparentDepth int // blockDepth value when the transparent block opened
}

// GroupRubyBody classifies the lines of a Ruby class/module body (with
// extracted method bodies already removed/blanked by the caller) into
// contiguous same-type groups. startLine is the 1-indexed source line number
// of lines[0].
func GroupRubyBody(lines []string, startLine int) []RubyGroup {
	var groups []RubyGroup
	var current *RubyGroup
	var pendingLines []string
	var pendingRanges []LineRange
	var st rubyLineState

	flush := func() {
		if current == nil {
			return
		}
		groups = append(groups, *current)
		current = nil
	}

	startGroup := func(t RubyGroupType) {
		flush()
		current = &RubyGroup{Type: t}
		if len(pendingLines) > 0 {
			current.Content = strings.Join(pendingLines, "\n") + "\n"
			current.LineRanges = append(current.LineRanges, pendingRanges...)
			pendingLines = nil
			pendingRanges = nil
		}
	}

	addLine := func(lineNo int, text string) {
		if current == nil {
			current = &RubyGroup{Type: RubyGroupOther}
		}
		if current.Content != "" {
			current.Content += "\n"
		}
		current.Content += text
		n := len(current.LineRanges)
		if n > 0 && current.LineRanges[n-1].End == lineNo-1 {
			current.LineRanges[n-1].End = lineNo
		} else {
			current.LineRanges = append(current.LineRanges, LineRange{Start: lineNo, End: lineNo})
		}
	}

	for i, raw := range lines {
		lineNo := startLine + i
		trimmed := strings.TrimSpace(raw)

		// A transparent block's own do...end does not suspend classification.
		baseDepth := 0
		if st.inTransparent {
			baseDepth = st.transparentDepth + 1
		}

		if st.blockDepth > baseDepth || st.braceDepth > 0 {
			// Inside a suspended block: accumulate unless this line closes it.
			closesBlock := st.blockDepth > 0 && (trimmed == "end" || strings.HasPrefix(trimmed, "end "))

			st.blockDepth += boolToInt(opensDoBlock(trimmed)) - boolToInt(closesBlock)
			st.braceDepth += strings.Count(trimmed, "{") - strings.Count(trimmed, "}")
			if st.blockDepth < 0 {
				st.blockDepth = 0
			}
			if st.braceDepth < 0 {
				st.braceDepth = 0
			}

			if st.inTransparent && st.blockDepth <= st.transparentDepth {
				st.inTransparent = false
				continue // drop the transparent block's closing line
			}

			addLine(lineNo, raw)
			continue
		}

		if trimmed == "" {
			// Blank line: continuation within a group, otherwise pending.
			if current != nil {
				addLine(lineNo, raw)
			} else {
				pendingLines = append(pendingLines, raw)
				pendingRanges = append(pendingRanges, LineRange{Start: lineNo, End: lineNo})
			}
			continue
		}

		if strings.HasPrefix(trimmed, "#") {
			pendingLines = append(pendingLines, raw)
			pendingRanges = append(pendingRanges, LineRange{Start: lineNo, End: lineNo})
			continue
		}

		if st.inTransparent && st.blockDepth == baseDepth && (trimmed == "end" || strings.HasPrefix(trimmed, "end ")) {
			st.blockDepth--
			st.inTransparent = false
			continue // drop the transparent block's closing line
		}

		keyword := leadingKeyword(trimmed)

		if transparentBlockKeywords[keyword] && opensDoBlock(trimmed) {
			st.blockDepth++
			st.inTransparent = true
			st.transparentDepth = st.blockDepth - 1
			continue // drop the opening line
		}

		if rubyConstantRe.MatchString(keyword) || otherStatementKeywords[keyword] {
			startGroup(RubyGroupOther)
			addLine(lineNo, raw)
		} else if groupType, known := rubyKeywordGroups[keyword]; known {
			if current == nil || current.Type != groupType {
				startGroup(groupType)
			}
			addLine(lineNo, raw)
		} else {
			startGroup(RubyGroupOther)
			addLine(lineNo, raw)
		}

		if opensDoBlock(trimmed) {
			st.blockDepth++
		}
		st.braceDepth += strings.Count(trimmed, "{") - strings.Count(trimmed, "}")
		if st.braceDepth < 0 {
			st.braceDepth = 0
		}
	}

	// Trailing pending comment lines attach to the current group; with no
	// current group there is nothing to carry them into and they are dropped.
	if current != nil {
		for k, l := range pendingLines {
			addLine(pendingRanges[k].Start, l)
		}
	}
	flush()
	return groups
}

// SplitOversizedGroups splits any group whose content exceeds maxSize bytes
// into multiple same-type groups at line boundaries.
func SplitOversizedGroups(groups []RubyGroup, maxSize int) []RubyGroup {
	if maxSize <= 0 {
		return groups
	}
	var out []RubyGroup
	for _, g := range groups {
		if len(g.Content) <= maxSize {
			out = append(out, g)
			continue
		}
		lines := strings.Split(g.Content, "\n")
		var cur RubyGroup
		cur.Type = g.Type
		size := 0
		for _, ln := range lines {
			if size+len(ln)+1 > maxSize && cur.Content != "" {
				out = append(out, cur)
				cur = RubyGroup{Type: g.Type}
				size = 0
			}
			if cur.Content != "" {
				cur.Content += "\n"
			}
			cur.Content += ln
			size += len(ln) + 1
		}
		if cur.Content != "" {
			cur.LineRanges = g.LineRanges
			out = append(out, cur)
		}
	}
	return out
}

func leadingKeyword(trimmed string) string {
	trimmed = strings.TrimPrefix(trimmed, ":")
	i := 0
	for i < len(trimmed) {
		c := trimmed[i]
		if c == ' ' || c == '(' || c == '.' || c == ',' || c == ':' {
			break
		}
		i++
	}
	return trimmed[:i]
}

// doBlockRe matches a line ending in `do`, optionally followed by block
// parameters (`do |record|`).
var doBlockRe = regexp.MustCompile(`(^|[\s)])do(\s*\|[^|]*\|?)?$`)

func opensDoBlock(trimmed string) bool {
	return doBlockRe.MatchString(trimmed)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
