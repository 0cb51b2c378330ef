package lib

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

var Commands = map[string]func(){}

var Args = map[string]interface{}{}

func PreviewString(preview bool) string {
	if preview {
		return "!!preview!! "
	}
	return ""
}

func Contains(parts []string, part string) bool {
	for _, p := range parts {
		if p == part {
			return true
		}
	}
	return false
}

func Last(parts []string) string {
	return parts[len(parts)-1]
}

func SplitOnce(s string, sep string) (head, tail string, err error) {
	parts := strings.SplitN(s, sep, 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("cannot split once on %q: %s", sep, s)
	}
	return parts[0], parts[1], nil
}

func Atoi(s string) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		panic(err)
	}
	return i
}

func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func shell(format string, args ...interface{}) error {
	return shellAt(".", format, args...)
}

func shellAt(dir string, format string, args ...interface{}) error {
	str := fmt.Sprintf(format, args...)
	cmd := exec.Command("bash", "-c", str)
	cmd.Dir = dir
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
