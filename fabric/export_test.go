package fabric

var CheckSize = checkSize
