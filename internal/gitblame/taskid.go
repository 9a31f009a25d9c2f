package gitblame

import "regexp"

// Task-ID patterns, applied in order: JIRA-style keys, GitHub issue refs
// (the [^&] guard avoids HTML entities like &#123;), Azure Boards refs, and
// GitLab merge-request refs.
var (
	jiraRe   = regexp.MustCompile(`[A-Z]{2,10}-\d{1,6}`)
	githubRe = regexp.MustCompile(`(?:^|[^&])#(\d{1,7})`)
	azureRe  = regexp.MustCompile(`AB#\d{1,7}`)
	gitlabRe = regexp.MustCompile(`!\d{1,7}`)
)

// ExtractTaskIDs pulls issue/MR identifiers out of commit text, de-duplicated
// in first-seen order.
func ExtractTaskIDs(text string) []string {
	if text == "" {
		return nil
	}
	var ids []string
	seen := make(map[string]bool)
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	for _, m := range jiraRe.FindAllString(text, -1) {
		add(m)
	}
	for _, m := range githubRe.FindAllStringSubmatch(text, -1) {
		add("#" + m[1])
	}
	for _, m := range azureRe.FindAllString(text, -1) {
		add(m)
	}
	for _, m := range gitlabRe.FindAllString(text, -1) {
		add(m)
	}
	return ids
}
