package response

import "strconv"

// Status is an HTTP status code with its reason phrase.
type Status struct {
	Code int
	Text string
}

// String formats the status as it appears on the wire, e.g. "200 OK".
func (s Status) String() string {
	return strconv.Itoa(s.Code) + " " + s.Text
}

// The status catalogue used across the server.
var (
	StatusSwitchingProtocols = Status{101, "Switching Protocols"}

	StatusOK        = Status{200, "OK"}
	StatusCreated   = Status{201, "Created"}
	StatusNoContent = Status{204, "No Content"}

	StatusMovedPermanently  = Status{301, "Moved Permanently"}
	StatusFound             = Status{302, "Found"}
	StatusTemporaryRedirect = Status{307, "Temporary Redirect"}

	StatusBadRequest           = Status{400, "Bad Request"}
	StatusUnauthorized         = Status{401, "Unauthorized"}
	StatusForbidden            = Status{403, "Forbidden"}
	StatusNotFound             = Status{404, "Not Found"}
	StatusMethodNotAllowed     = Status{405, "Method Not Allowed"}
	StatusRequestTimeout       = Status{408, "Request Timeout"}
	StatusPayloadTooLarge      = Status{413, "Payload Too Large"}
	StatusUnsupportedMediaType = Status{415, "Unsupported Media Type"}

	StatusInternalServerError = Status{500, "Internal Server Error"}
	StatusServiceUnavailable  = Status{503, "Service Unavailable"}
)
