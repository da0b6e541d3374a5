package telemetry

// Span names used for instrumentation.
const (
	SpanFit       = "georef.fit"
	SpanProject   = "georef.project"
	SpanDecode    = "georef.decode"
	SpanEncode    = "georef.encode"
	SpanTransform = "georef.transform"
)

// Span attribute keys.
const (
	AttrSessionID   = "georef.session_id"
	AttrSlot        = "georef.slot"
	AttrPairs       = "georef.pairs"
	AttrFeatures    = "georef.features"
	AttrSkipped     = "georef.skipped"
	AttrScale       = "georef.scale"
	AttrTargetFrame = "georef.target_frame"
)
