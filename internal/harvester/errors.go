package harvester

import "fmt"

// Reimport error codes. These are stable identifiers surfaced through the
// reimport API payloads, so callers can react without parsing messages.
const (
	ErrorWrongHTTP            = 1
	ErrorWrongContentType     = 2
	ErrorMissingID            = 3
	ErrorNotFoundInCatalog    = 4
	ErrorNotHarvested         = 5
	ErrorNotHarvestedBySource = 6
	ErrorNoGUID               = 7
	ErrorNoConnection         = 8
	ErrorNoConnectionPackage  = 9
	ErrorNotFoundRemote       = 10
	ErrorDuringImport         = 11
	ErrorUnexpected           = 20
)

// ErrorMessages maps reimport error codes to their generic, unformatted
// messages.
var ErrorMessages = map[int]string{
	ErrorWrongHTTP:            "Wrong HTTP method, only GET is allowed.",
	ErrorWrongContentType:     "Wrong content type, only application/json is allowed.",
	ErrorMissingID:            "Missing parameter 'id'.",
	ErrorNotFoundInCatalog:    "Package id '%s' does not exist. Cannot reimport package.",
	ErrorNotHarvested:         "Package could not be re-imported because it was not created by a harvester.",
	ErrorNotHarvestedBySource: "Package could not be re-imported because it was not harvested by harvester '%s'.",
	ErrorNoGUID:               "Package could not be re-imported because FIS-Broker GUID could not be determined.",
	ErrorNoConnection:         "Failed to establish connection to FIS-Broker service at %s (%s).",
	ErrorNoConnectionPackage:  "Failed to establish connection to FIS-Broker service at %s (%s) while reimporting package '%s'.",
	ErrorNotFoundRemote:       "Package could not be re-imported because GUID '%s' was not found on FIS-Broker.",
	ErrorDuringImport:         "Package could not be re-imported because the FIS-Broker data is no longer valid. Reason: %s. Package will be deactivated.",
	ErrorUnexpected:           "Unexpected error",
}

// ReimportError is a typed failure of the ad hoc reimport path. It always
// carries a stable code and a human-readable message; DatasetID identifies
// the offending package where one is known.
type ReimportError struct {
	Code      int
	DatasetID string
	Message   string
}

func (e *ReimportError) Error() string {
	return e.Message
}

func newReimportError(code int, datasetID string, args ...any) *ReimportError {
	message, ok := ErrorMessages[code]
	if !ok {
		code = ErrorUnexpected
		message = ErrorMessages[ErrorUnexpected]
	}
	if len(args) > 0 {
		message = fmt.Sprintf(message, args...)
	}
	return &ReimportError{Code: code, DatasetID: datasetID, Message: message}
}

func NotFoundInCatalogError(datasetID string) *ReimportError {
	return newReimportError(ErrorNotFoundInCatalog, datasetID, datasetID)
}

func NotHarvestedError(datasetID string) *ReimportError {
	return newReimportError(ErrorNotHarvested, datasetID)
}

func NotHarvestedBySourceError(datasetID string, sourceID string) *ReimportError {
	return newReimportError(ErrorNotHarvestedBySource, datasetID, sourceID)
}

func NoGUIDError(datasetID string) *ReimportError {
	return newReimportError(ErrorNoGUID, datasetID)
}

// NoConnectionError always carries code ErrorNoConnection; the message
// names the package where one is known.
func NoConnectionError(datasetID string, endpoint string, cause error) *ReimportError {
	message := fmt.Sprintf(ErrorMessages[ErrorNoConnection], endpoint, cause)
	if datasetID != "" {
		message = fmt.Sprintf(ErrorMessages[ErrorNoConnectionPackage], endpoint, cause, datasetID)
	}
	return &ReimportError{Code: ErrorNoConnection, DatasetID: datasetID, Message: message}
}

func NotFoundRemoteError(datasetID string, guid string) *ReimportError {
	return newReimportError(ErrorNotFoundRemote, datasetID, guid)
}

func ImportRejectedError(datasetID string, reason string) *ReimportError {
	return newReimportError(ErrorDuringImport, datasetID, reason)
}
