// chatctl 是聊天中继服务的命令行客户端
package main

func main() {
	Execute()
}
