package event

// Inbound topics, one stream per event kind.
const (
	TopicUserRegistered      = "user.registered"
	TopicSubscriptionCharged = "subscription.charged"
	TopicPointsPurchased     = "points.purchased"
	TopicPointsGranted       = "points.granted"
)

// Outbound topics.
const (
	TopicPointsRegistered        = "points.registered"
	TopicPointsDecreased         = "points.decreased"
	TopicPointsPurchaseCompleted = "points.purchase.completed"
	TopicInsufficientBalance     = "points.insufficient"
)

// InboundTopics lists every stream the gateway consumes.
func InboundTopics() []string {
	return []string{
		TopicUserRegistered,
		TopicSubscriptionCharged,
		TopicPointsPurchased,
		TopicPointsGranted,
	}
}
