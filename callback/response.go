// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"errors"
	"html/template"
	"net/http"

	"github.com/hashicorp/appauth/oidc"
)

const (
	successMessage = "Authorization complete. You may close this window and return to the application."
	failedMessage  = "Authorization failed. Return to the application for details."
)

var responseTmpl = template.Must(template.New("response").Parse(`<!doctype html>
<html>
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
<h3>{{.Message}}</h3>
{{if .Detail}}<p>{{.Detail}}</p>{{end}}
</body>
</html>
`))

type responseData struct {
	Title   string
	Message string
	Detail  string
}

// writeResult renders the page shown in the user's browser once the
// authorization response has been received.  Provider supplied text is
// escaped by the template.
func writeResult(w http.ResponseWriter, res *oidc.AuthorizationResult) {
	data := responseData{Title: "Authorization complete", Message: successMessage}
	status := http.StatusOK
	if res.Err != nil {
		status = http.StatusBadRequest
		data = responseData{Title: "Authorization failed", Message: failedMessage}
		var authErr *oidc.AuthorizationError
		if errors.As(res.Err, &authErr) {
			data.Detail = authErr.Code
			if authErr.Description != "" {
				data.Detail += ": " + authErr.Description
			}
		}
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = responseTmpl.Execute(w, data)
}
