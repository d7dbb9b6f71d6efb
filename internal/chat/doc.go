// Package chat defines the records recalld keeps for every ingested chat
// message and the error kinds shared by the stores, the vector index and
// the coordinator.
package chat
