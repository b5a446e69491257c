// Command voicehub runs the voice room and call signaling hub.
package main

func main() {
	Execute()
}
