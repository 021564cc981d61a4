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
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

// Client is a thin, read-only client of a master's status API, grounded
// on the teacher's rest.Client, pared down: yardmasterd exposes no
// enable/disable/restart verbs, so neither does this client.
type Client struct {
	base   string
	user   string
	pass   string
	client *http.Client
}

// NewClient returns a Client pointed at base (e.g. "http://127.0.0.1:8321").
func NewClient(base string) *Client {
	return &Client{base: base, client: &http.Client{}}
}

// SetAuth configures HTTP Basic-Auth credentials for subsequent requests.
func (c *Client) SetAuth(user, pass string) {
	c.user = user
	c.pass = pass
}

func (c *Client) get(path string, v interface{}) error {
	req, err := http.NewRequest("GET", c.base+path, nil)
	if err != nil {
		return err
	}
	if c.user != "" {
		req.SetBasicAuth(c.user, c.pass)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var e Error
		json.NewDecoder(resp.Body).Decode(&e)
		if e.Message == "" {
			e.Message = resp.Status
		}
		return fmt.Errorf("%s", e.Message)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// Info fetches GET /info.
func (c *Client) Info() (MasterInfo, error) {
	var info MasterInfo
	err := c.get("/info", &info)
	return info, err
}

// Listeners fetches GET /listeners.
func (c *Client) Listeners() ([]ListenerInfo, error) {
	var listeners []ListenerInfo
	err := c.get("/listeners", &listeners)
	return listeners, err
}

// Log fetches GET /log?since=last.
func (c *Client) Log(since int64) ([]LogRecord, error) {
	var recs []LogRecord
	err := c.get("/log?since="+strconv.FormatInt(since, 10), &recs)
	return recs, err
}

// Watch long-polls GET /watch?serial=old and returns the new serial.
func (c *Client) Watch(old int64) (int64, error) {
	var info MasterInfo
	err := c.get("/watch?serial="+strconv.FormatInt(old, 10), &info)
	return info.Serial, err
}
