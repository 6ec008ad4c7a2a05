package payload

// Field names of the tracker protocol.
const (
	KeyEvent          = "e"
	KeyEventID        = "eid"
	KeyTimestamp      = "dtm"
	KeySentTimestamp  = "stm"
	KeyPlatform       = "p"
	KeyAppID          = "aid"
	KeyNamespace      = "tna"
	KeyTrackerVersion = "tv"

	KeyContext        = "co"
	KeyContextEncoded = "cx"

	KeyUnstructured        = "ue_pr"
	KeyUnstructuredEncoded = "ue_px"

	KeyUserID        = "uid"
	KeyResolution    = "res"
	KeyViewport      = "vp"
	KeyColorDepth    = "cd"
	KeyTimezone      = "tz"
	KeyLanguage      = "lang"
	KeyIPAddress     = "ip"
	KeyUserAgent     = "ua"
	KeyDomainUserID  = "duid"
	KeyNetworkUserID = "tnuid"

	KeySECategory = "se_ca"
	KeySEAction   = "se_ac"
	KeySELabel    = "se_la"
	KeySEProperty = "se_pr"
	KeySEValue    = "se_va"
)

// Event type values for KeyEvent.
const (
	EventStructured   = "se"
	EventUnstructured = "ue"
)

// Iglu schema URIs.
const (
	SchemaPayloadData   = "iglu:com.snowplowanalytics.snowplow/payload_data/jsonschema/1-0-4"
	SchemaContexts      = "iglu:com.snowplowanalytics.snowplow/contexts/jsonschema/1-0-1"
	SchemaUnstructEvent = "iglu:com.snowplowanalytics.snowplow/unstruct_event/jsonschema/1-0-0"
	SchemaScreenView    = "iglu:com.snowplowanalytics.snowplow/screen_view/jsonschema/1-0-0"
	SchemaTiming        = "iglu:com.snowplowanalytics.snowplow/timing/jsonschema/1-0-0"
	SchemaClientSession = "iglu:com.snowplowanalytics.snowplow/client_session/jsonschema/1-0-1"
)
