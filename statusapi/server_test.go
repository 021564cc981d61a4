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
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/dierickx/yardmaster"
)

func TestInfoAndListeners(t *testing.T) {
	Convey("GET /info and /listeners reflect an idle master", t, func() {
		m, err := yardmaster.NewMaster(yardmaster.Config{ConfigPaths: []string{"x.conf"}})
		So(err, ShouldBeNil)
		h := NewHandler(m, "", nil)
		srv := httptest.NewServer(h)
		defer srv.Close()

		c := NewClient(srv.URL)
		info, err := c.Info()
		So(err, ShouldBeNil)
		So(info.Paused, ShouldBeFalse)

		listeners, err := c.Listeners()
		So(err, ShouldBeNil)
		So(listeners, ShouldBeEmpty)
	})
}

func TestBasicAuthRejectsBadCredentials(t *testing.T) {
	Convey("A protected server rejects the wrong password", t, func() {
		m, err := yardmaster.NewMaster(yardmaster.Config{ConfigPaths: []string{"x.conf"}})
		So(err, ShouldBeNil)
		hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.MinCost)
		So(err, ShouldBeNil)
		h := NewHandler(m, "ops", hash)
		srv := httptest.NewServer(h)
		defer srv.Close()

		req, _ := http.NewRequest("GET", srv.URL+"/info", nil)
		req.SetBasicAuth("ops", "wrong")
		resp, err := http.DefaultClient.Do(req)
		So(err, ShouldBeNil)
		So(resp.StatusCode, ShouldEqual, http.StatusUnauthorized)

		c := NewClient(srv.URL)
		c.SetAuth("ops", "correct-horse")
		_, err = c.Info()
		So(err, ShouldBeNil)
	})
}
