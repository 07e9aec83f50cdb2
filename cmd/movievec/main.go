package main

import (
	_ "time/tzdata" // 确保在精简镜像中也能识别时区
)

func main() {
	Execute()
}
