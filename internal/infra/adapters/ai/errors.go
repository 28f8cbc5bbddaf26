package ai

import "errors"

var errNoProvider = errors.New("no extraction provider configured")
