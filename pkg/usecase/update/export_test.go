package update

var LogCycle = logCycle
