package remote

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
)

// RemoteError is an error reported by the remote database itself, as
// opposed to a transport failure.
type RemoteError struct {
	Code    string
	Message string
	Detail  string
}

func (e *RemoteError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("remote error %s: %s (%s)", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("remote error %s: %s", e.Code, e.Message)
}

// AsRemoteError extracts the server-side error from a driver error chain
func AsRemoteError(err error) (*RemoteError, bool) {
	if err == nil {
		return nil, false
	}

	var re *RemoteError
	if errors.As(err, &re) {
		return re, true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return &RemoteError{
			Code:    string(pqErr.Code),
			Message: pqErr.Message,
			Detail:  pqErr.Detail,
		}, true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return &RemoteError{
			Code:    strconv.Itoa(int(myErr.Number)),
			Message: myErr.Message,
		}, true
	}

	return nil, false
}
