package repository

var BreakLock = breakLock
