package librelink

import "encoding/json"

// loginResponse covers both the success and error shapes of the login
// endpoint; the vendor nests errors under "error" even on 2xx responses.
type loginResponse struct {
	Data  *loginData `json:"data"`
	Error *apiError  `json:"error"`
}

type loginData struct {
	AuthTicket *authTicket `json:"authTicket"`
	User       *apiUser    `json:"user"`
}

type authTicket struct {
	Token string `json:"token"`
}

type apiUser struct {
	ID string `json:"id"`
}

type apiError struct {
	Message string `json:"message"`
}

// graphResponse is the fetch endpoint envelope. Entries are kept raw so that
// one malformed entry cannot fail the whole batch.
type graphResponse struct {
	Data  *graphData `json:"data"`
	Error *apiError  `json:"error"`
}

type graphData struct {
	GraphData []json.RawMessage `json:"graphData"`
}

// graphEntry uses pointer fields so missing keys are distinguishable from
// zero values and the entry can be dropped.
type graphEntry struct {
	ValueInMgPerDl *float64 `json:"ValueInMgPerDl"`
	Timestamp      *string  `json:"Timestamp"`
}
