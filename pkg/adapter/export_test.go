package adapter

var (
	IsTokenLimitError   = isTokenLimitError
	ParseLogTime        = parseLogTime
	ClassifyGeminiError = classifyGeminiError
	IsModelNotFound     = isModelNotFound
)
