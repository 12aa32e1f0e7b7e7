package mqtt

// StatusTopic returns the gateway status topic derived from the configured
// publish topic. Online/offline announcements and the LWT are published here
// so consumers of the envelope stream can watch a sibling topic for liveness.
func StatusTopic(base string) string {
	return base + "/status"
}
