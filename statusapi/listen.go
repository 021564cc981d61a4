// Copyright 2015 The Govisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package statusapi

import (
	"crypto/tls"
	"net/http"

	"golang.org/x/net/http2"
)

// ListenAndServe serves h on addr. When certFile/keyFile are given, the
// listener is upgraded to speak HTTP/2 over TLS via
// http2.ConfigureServer; plain HTTP/1.1 is used otherwise, since h2c is
// not worth the extra complexity for a diagnostic-only endpoint.
func ListenAndServe(addr string, h http.Handler, certFile, keyFile string) error {
	srv := &http.Server{Addr: addr, Handler: h}
	if certFile == "" || keyFile == "" {
		return srv.ListenAndServe()
	}
	if err := http2.ConfigureServer(srv, &http2.Server{}); err != nil {
		return err
	}
	srv.TLSConfig = &tls.Config{NextProtos: []string{"h2", "http/1.1"}}
	return srv.ListenAndServeTLS(certFile, keyFile)
}
