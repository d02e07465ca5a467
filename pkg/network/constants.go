package network

import "github.com/c2h5oh/datasize"

const (
    // DefaultMaxLineSize bounds the single line read from an inbound connection.
    DefaultMaxLineSize = 64 * datasize.KB

    lineDelimiter = '\n'
)
