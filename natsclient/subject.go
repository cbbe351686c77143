package natsclient

import "strings"

// Subject maps a slash-separated topic to a NATS subject. MQTT wildcards
// become NATS wildcards; dots and spaces inside a level become underscores.
func Subject(topic string) string {
	levels := strings.Split(strings.Trim(topic, "/"), "/")
	for i, level := range levels {
		switch level {
		case "+":
			levels[i] = "*"
		case "#":
			levels[i] = ">"
		default:
			levels[i] = strings.NewReplacer(".", "_", " ", "_").Replace(level)
		}
	}
	return strings.Join(levels, ".")
}

// Topic maps a NATS subject back to a slash-separated topic.
func Topic(subject string) string {
	return strings.ReplaceAll(subject, ".", "/")
}

// durableName derives a stable consumer name from the client name and subject.
func durableName(client, subject string) string {
	r := strings.NewReplacer(".", "_", "*", "any", ">", "all")
	return r.Replace(client) + "_" + r.Replace(subject)
}
