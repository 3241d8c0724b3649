// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Face detection constants
const (
	// DefaultMinScore is the minimum detection score for a face to be kept
	DefaultMinScore = 0.5

	// DefaultDetSize is the detector input size passed to the face service
	DefaultDetSize = 640

	// MaxImageSize is the maximum dimension (width or height) sent to the face service
	MaxImageSize = 1920
)

// Clustering constants
const (
	// DefaultMinClusterSize is the smallest group of faces reported as one identity
	DefaultMinClusterSize = 2

	// DefaultEpsilon is the default maximum cosine distance between neighboring faces.
	// Lower values = stricter matching
	DefaultEpsilon = 0.5

	// DefaultBruteForceLimit is the embedding count up to which neighborhoods are exact
	DefaultBruteForceLimit = 2000

	// HNSWMaxNeighbors is the M parameter of the neighbor graph
	HNSWMaxNeighbors = 16

	// HNSWEfSearch is the minimum candidate list size during graph search
	HNSWEfSearch = 100

	// HNSWSeed seeds level generation so the same input builds the same graph
	HNSWSeed = 1

	// MaxNeighborQuery caps the neighbors fetched per graph query
	MaxNeighborQuery = 256
)

// Distribution constants
const (
	// ClusterDirPrefix is the folder name prefix for a cluster, followed by a 2-digit id
	ClusterDirPrefix = "cluster_"

	// ReportListLimit is how many unreadable / no-face paths are shown to the user
	ReportListLimit = 30
)

// Processing constants
const (
	// DefaultWorkers is the default number of parallel workers for image analysis
	DefaultWorkers = 1

	// EventChannelBuffer is the buffer size for job event channels
	EventChannelBuffer = 100

	// JobQueueSize is the number of grouping jobs that can wait in the queue
	JobQueueSize = 64
)
