package service

import "regexp"

// Mention syntax embedded in raw message text.
var (
	userTagPattern = regexp.MustCompile(`//\{usertag:([^}]+)\}//`)
	roleTagPattern = regexp.MustCompile(`//\{roletag:([^}]+)\}//`)
)

// ExtractMentions pulls the mentioned user and role tags out of message text,
// deduplicated in order of first appearance.
func ExtractMentions(text string) (userTags, roleTags []string) {
	return extract(userTagPattern, text), extract(roleTagPattern, text)
}

func extract(pattern *regexp.Regexp, text string) []string {
	seen := make(map[string]struct{})
	var tags []string
	for _, match := range pattern.FindAllStringSubmatch(text, -1) {
		tag := match[1]
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	return tags
}
