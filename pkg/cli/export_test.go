package cli

var (
	NewApp        = newApp
	ParseInterval = parseInterval
)
