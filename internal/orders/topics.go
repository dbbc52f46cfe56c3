package orders

// Single topic for order lifecycle events; the event_type header tells
// consumers apart.
const TopicOrderStatus = "order.status"

// Partition key = order_id so events for one order keep their order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
