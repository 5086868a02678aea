package demo

import "errors"

var ErrNotOwner = errors.New("entity is not controlled by this session")
