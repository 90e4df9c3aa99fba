package cache

import "fmt"

// StateKey namespaces a persisted state key such as "tasks".
func StateKey(key string) string {
	return fmt.Sprintf("vidqueue:state:%s", key)
}

func RateLimitKey(client string) string {
	return fmt.Sprintf("ratelimit:%s", client)
}
